// Package metricsstore defines the persistence contract for venue/market/rolling metrics (spec §3, §4.C).
package metricsstore

import (
	"context"
	"time"
)

// VenueMetrics is the unique-by-(venue_id, window_date) incremental aggregation row.
type VenueMetrics struct {
	VenueID            string
	WindowDate         string
	ClosedCount        int64
	AvgDurationSeconds float64
	NewDropCount       int64
	ScarcityScore      float64
	UpdatedAt          time.Time
}

// MarketMetrics is the unique-by-(window_date, metric_type) daily-totals row.
type MarketMetrics struct {
	WindowDate string
	MetricType string
	DailyTotals map[string]int64 // e.g. by-hour histogram, keyed by hour string
	UpdatedAt   time.Time
}

// VenueRollingMetrics is the periodic 14-day batch rollup row (spec §9 design notes,
// original_source's VenueRollingMetrics, carried over per SPEC_FULL.md).
type VenueRollingMetrics struct {
	VenueID              string
	WindowDate           string
	DropFrequencyPerDay  float64
	RarityScore          float64
	TrendPct             *float64
	AvailabilityRate14d  float64
	UpdatedAt            time.Time
}

// VenueMetricsDelta is the incremental input to IncrementVenueMetrics for one
// venue/day: the newly-closed rows observed in this aggregation pass.
type VenueMetricsDelta struct {
	VenueID        string
	WindowDate     string
	ClosedCount    int64
	AvgDurationSec float64
	NewDropCount   int64
}

// Store is the persistence contract for the metrics tables.
type Store interface {
	// IncrementVenueMetrics applies the incremental running-average update
	// described in spec §9: new_avg = (old_avg*old_n + added_avg*added_n) / (old_n+added_n).
	// It upserts the scarcity score computed by the caller.
	IncrementVenueMetrics(ctx context.Context, deltas []VenueMetricsDelta, scarcity map[string]float64) error

	// IncrementMarketMetrics upserts the by-hour histogram for windowDate, merging
	// hourCounts into any existing daily_totals.
	IncrementMarketMetrics(ctx context.Context, windowDate, metricType string, hourCounts map[string]int64) error

	// UpsertVenueRollingMetrics writes the periodic batch rollup rows.
	UpsertVenueRollingMetrics(ctx context.Context, rows []VenueRollingMetrics) error

	// ListVenueMetricsSince returns every venue_metrics row with window_date >=
	// since, grouped by venue_id, for the periodic rolling rollup to fold
	// into VenueRollingMetrics (spec §4.C, retention.Manager.AggregateBeforePrune).
	ListVenueMetricsSince(ctx context.Context, since string) ([]VenueMetrics, error)

	// DeleteMetricsOlderThan deletes venue/market metrics rows whose window_date
	// predates cutoff (spec §4.E retention).
	DeleteMetricsOlderThan(ctx context.Context, cutoff string) (int64, error)
}
