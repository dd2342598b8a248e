package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resy-watch/discovery-engine/internal/domain/metricsstore"
)

const (
	sqlVenueMetricsSelect = `
SELECT closed_count, avg_duration_seconds, new_drop_count
FROM venue_metrics WHERE venue_id = @venue_id AND window_date = @window_date`

	sqlVenueMetricsUpsert = `
INSERT INTO venue_metrics (venue_id, window_date, closed_count, avg_duration_seconds, new_drop_count, scarcity_score, updated_at)
VALUES (@venue_id, @window_date, @closed_count, @avg_duration_seconds, @new_drop_count, @scarcity_score, now())
ON CONFLICT (venue_id, window_date) DO UPDATE SET
  closed_count = excluded.closed_count,
  avg_duration_seconds = excluded.avg_duration_seconds,
  new_drop_count = excluded.new_drop_count,
  scarcity_score = excluded.scarcity_score,
  updated_at = now()`

	sqlMarketMetricsSelect = `
SELECT daily_totals FROM market_metrics WHERE window_date = @window_date AND metric_type = @metric_type`

	sqlMarketMetricsUpsert = `
INSERT INTO market_metrics (window_date, metric_type, daily_totals, updated_at)
VALUES (@window_date, @metric_type, @daily_totals, now())
ON CONFLICT (window_date, metric_type) DO UPDATE SET
  daily_totals = excluded.daily_totals,
  updated_at = now()`

	sqlVenueRollingMetricsUpsert = `
INSERT INTO venue_rolling_metrics (venue_id, window_date, drop_frequency_per_day, rarity_score, trend_pct, availability_rate_14d, updated_at)
VALUES (@venue_id, @window_date, @drop_frequency_per_day, @rarity_score, @trend_pct, @availability_rate_14d, now())
ON CONFLICT (venue_id, window_date) DO UPDATE SET
  drop_frequency_per_day = excluded.drop_frequency_per_day,
  rarity_score = excluded.rarity_score,
  trend_pct = excluded.trend_pct,
  availability_rate_14d = excluded.availability_rate_14d,
  updated_at = now()`

	sqlVenueMetricsSelectSince = `
SELECT venue_id, window_date, closed_count, avg_duration_seconds, new_drop_count, scarcity_score, updated_at
FROM venue_metrics WHERE window_date >= @since ORDER BY venue_id, window_date`

	sqlMetricsDeleteVenueOlderThan  = `DELETE FROM venue_metrics WHERE window_date < @cutoff`
	sqlMetricsDeleteMarketOlderThan = `DELETE FROM market_metrics WHERE window_date < @cutoff`
	sqlMetricsDeleteRollingOlderThan = `DELETE FROM venue_rolling_metrics WHERE window_date < @cutoff`
)

// MetricsStore implements metricsstore.Store against PostgreSQL. Like
// NotifyStore, and unlike the other domain stores, it owns its pool directly:
// spec §4.C step 12 requires
// aggregation to commit outside the poll worker's bucket transaction.
type MetricsStore struct {
	pool *pgxpool.Pool
}

// NewMetricsStore constructs a MetricsStore bound to pool.
func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore { return &MetricsStore{pool: pool} }

var _ metricsstore.Store = (*MetricsStore)(nil)

func (s *MetricsStore) IncrementVenueMetrics(ctx context.Context, deltas []metricsstore.VenueMetricsDelta, scarcity map[string]float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin venue metrics tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, d := range deltas {
		var prevClosed, prevNewDrop int64
		var prevAvg float64
		row := tx.QueryRow(ctx, sqlVenueMetricsSelect, pgx.NamedArgs{"venue_id": d.VenueID, "window_date": d.WindowDate})
		switch err := row.Scan(&prevClosed, &prevAvg, &prevNewDrop); err {
		case nil:
		case pgx.ErrNoRows:
			prevClosed, prevAvg, prevNewDrop = 0, 0, 0
		default:
			return fmt.Errorf("select venue metrics %s/%s: %w", d.VenueID, d.WindowDate, err)
		}

		newClosed := prevClosed + d.ClosedCount
		newAvg := prevAvg
		if newClosed > 0 {
			newAvg = (prevAvg*float64(prevClosed) + d.AvgDurationSec*float64(d.ClosedCount)) / float64(newClosed)
		}
		newDropCount := prevNewDrop + d.NewDropCount

		_, err = tx.Exec(ctx, sqlVenueMetricsUpsert, pgx.NamedArgs{
			"venue_id":              d.VenueID,
			"window_date":           d.WindowDate,
			"closed_count":          newClosed,
			"avg_duration_seconds":  newAvg,
			"new_drop_count":        newDropCount,
			"scarcity_score":        scarcity[d.VenueID],
		})
		if err != nil {
			return fmt.Errorf("upsert venue metrics %s/%s: %w", d.VenueID, d.WindowDate, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *MetricsStore) IncrementMarketMetrics(ctx context.Context, windowDate, metricType string, hourCounts map[string]int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin market metrics tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingJSON []byte
	row := tx.QueryRow(ctx, sqlMarketMetricsSelect, pgx.NamedArgs{"window_date": windowDate, "metric_type": metricType})
	merged := make(map[string]int64)
	switch err := row.Scan(&existingJSON); err {
	case nil:
		if err := json.Unmarshal(existingJSON, &merged); err != nil {
			return fmt.Errorf("decode daily_totals: %w", err)
		}
	case pgx.ErrNoRows:
	default:
		return fmt.Errorf("select market metrics %s/%s: %w", windowDate, metricType, err)
	}
	for hour, count := range hourCounts {
		merged[hour] += count
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode daily_totals: %w", err)
	}
	_, err = tx.Exec(ctx, sqlMarketMetricsUpsert, pgx.NamedArgs{
		"window_date":   windowDate,
		"metric_type":   metricType,
		"daily_totals":  encoded,
	})
	if err != nil {
		return fmt.Errorf("upsert market metrics %s/%s: %w", windowDate, metricType, err)
	}
	return tx.Commit(ctx)
}

func (s *MetricsStore) UpsertVenueRollingMetrics(ctx context.Context, rows []metricsstore.VenueRollingMetrics) error {
	for _, r := range rows {
		_, err := s.pool.Exec(ctx, sqlVenueRollingMetricsUpsert, pgx.NamedArgs{
			"venue_id":                r.VenueID,
			"window_date":             r.WindowDate,
			"drop_frequency_per_day":  r.DropFrequencyPerDay,
			"rarity_score":            r.RarityScore,
			"trend_pct":               r.TrendPct,
			"availability_rate_14d":   r.AvailabilityRate14d,
		})
		if err != nil {
			return fmt.Errorf("upsert venue rolling metrics %s/%s: %w", r.VenueID, r.WindowDate, err)
		}
	}
	return nil
}

func (s *MetricsStore) ListVenueMetricsSince(ctx context.Context, since string) ([]metricsstore.VenueMetrics, error) {
	rows, err := s.pool.Query(ctx, sqlVenueMetricsSelectSince, pgx.NamedArgs{"since": since})
	if err != nil {
		return nil, fmt.Errorf("list venue metrics since %s: %w", since, err)
	}
	defer rows.Close()

	out := make([]metricsstore.VenueMetrics, 0)
	for rows.Next() {
		var m metricsstore.VenueMetrics
		if err := rows.Scan(&m.VenueID, &m.WindowDate, &m.ClosedCount, &m.AvgDurationSeconds, &m.NewDropCount, &m.ScarcityScore, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan venue metrics row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate venue metrics rows: %w", err)
	}
	return out, nil
}

func (s *MetricsStore) DeleteMetricsOlderThan(ctx context.Context, cutoff string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin delete metrics tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, q := range []string{sqlMetricsDeleteVenueOlderThan, sqlMetricsDeleteMarketOlderThan, sqlMetricsDeleteRollingOlderThan} {
		tag, err := tx.Exec(ctx, q, pgx.NamedArgs{"cutoff": cutoff})
		if err != nil {
			return 0, fmt.Errorf("delete metrics older than %s: %w", cutoff, err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit delete metrics tx: %w", err)
	}
	return total, nil
}
