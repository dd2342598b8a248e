// Package aggregate computes venue/market metrics from closed availability
// windows, folding closed availability-state rows into running aggregates
// before they are deleted (spec §4.C step 12, §4.E).
package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/resy-watch/discovery-engine/internal/domain/metricsstore"
)

// ClosedEvent is one slot's full open->close lifecycle, ready to fold into
// venue_metrics and market_metrics.
type ClosedEvent struct {
	VenueID         string
	VenueName       string
	DurationSeconds int64
	SlotDate        string // "YYYY-MM-DD"; falls back to BucketID's date prefix
	BucketID        string
	OpenedAt        time.Time
}

// WindowDate derives the reservation date used to bucket metrics: SlotDate
// when present, otherwise the first 10 characters of BucketID.
func WindowDate(e ClosedEvent) string {
	if e.SlotDate != "" {
		return e.SlotDate
	}
	if len(e.BucketID) >= 10 {
		return e.BucketID[:10]
	}
	return ""
}

// ScarcityScore combines speed, churn, and rarity into a single 0-100 score;
// higher means a slot is harder to get. avgDurationSeconds nil is treated as
// a slow 600s baseline, matching the original aggregation's default.
func ScarcityScore(avgDurationSeconds *float64, newDropCount, closedCount int64) float64 {
	avg := 600.0
	if avgDurationSeconds != nil {
		avg = *avgDurationSeconds
	}

	hundred := decimal.NewFromInt(100)
	sixty := decimal.NewFromInt(60)
	avgDec := decimal.NewFromFloat(avg)

	speedFactor := hundred.Div(decimal.NewFromInt(1).Add(avgDec.Div(sixty)))
	speedComponent := speedFactor.Mul(decimal.NewFromFloat(0.33))

	churnRatio := decimal.NewFromInt(closedCount).Div(decimal.NewFromInt(10))
	one := decimal.NewFromInt(1)
	if churnRatio.GreaterThan(one) {
		churnRatio = one
	}
	churnFactor := churnRatio.Mul(decimal.NewFromInt(50))
	churnComponent := churnFactor.Mul(decimal.NewFromFloat(0.66))

	rarityComponent := decimal.NewFromFloat(34.0).Div(decimal.NewFromInt(1).Add(decimal.NewFromInt(newDropCount)))

	score := speedComponent.Add(churnComponent).Add(rarityComponent)
	if score.GreaterThan(hundred) {
		score = hundred
	}
	out, _ := score.Round(2).Float64()
	return out
}

// BuildVenueDeltas groups closed events by (venue_id, window_date) into the
// incremental deltas venue_metrics needs to fold in.
func BuildVenueDeltas(events []ClosedEvent) []metricsstore.VenueMetricsDelta {
	type key struct{ venueID, windowDate string }
	grouped := make(map[key][]ClosedEvent)
	order := make([]key, 0)
	for _, e := range events {
		vid := e.VenueID
		if vid == "" {
			vid = "unknown"
		}
		k := key{venueID: vid, windowDate: WindowDate(e)}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e)
	}

	deltas := make([]metricsstore.VenueMetricsDelta, 0, len(order))
	for _, k := range order {
		items := grouped[k]
		var sum int64
		for _, it := range items {
			sum += it.DurationSeconds
		}
		avg := float64(sum) / float64(len(items))
		deltas = append(deltas, metricsstore.VenueMetricsDelta{
			VenueID:        k.venueID,
			WindowDate:     k.windowDate,
			ClosedCount:    int64(len(items)),
			AvgDurationSec: avg,
			NewDropCount:   int64(len(items)),
		})
	}
	return deltas
}

// BuildMarketHourCounts groups closed events by window_date, then by the UTC
// hour they opened in, for the market_metrics daily_totals histogram.
func BuildMarketHourCounts(events []ClosedEvent) map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for _, e := range events {
		wd := WindowDate(e)
		if wd == "" {
			continue
		}
		if out[wd] == nil {
			out[wd] = make(map[string]int64)
		}
		hour := e.OpenedAt.UTC().Format("15")
		out[wd][hour]++
	}
	return out
}

// VenueHistory is one venue's recent venue_metrics rows, used to compute the
// periodic rolling rollup.
type VenueHistory struct {
	VenueID string
	Rows    []metricsstore.VenueMetrics
}

// RollingMetrics computes drop frequency, rarity, trend (last 7 days vs the
// previous 7), and a 14-day availability rate per venue, matching the batch
// rollup the original scheduler runs before the daily prune.
func RollingMetrics(histories []VenueHistory, windowDate string, windowDays int) []metricsstore.VenueRollingMetrics {
	asOf, err := time.Parse("2006-01-02", windowDate)
	if err != nil {
		return nil
	}
	last7Cutoff := asOf.AddDate(0, 0, -7).Format("2006-01-02")

	out := make([]metricsstore.VenueRollingMetrics, 0, len(histories))
	for _, h := range histories {
		var totalNewDrops int64
		daysWithDrops := make(map[string]struct{})
		var last7, prev7 int64
		for _, r := range h.Rows {
			totalNewDrops += r.NewDropCount
			if r.NewDropCount > 0 {
				daysWithDrops[r.WindowDate] = struct{}{}
			}
			if r.WindowDate >= last7Cutoff {
				last7 += r.NewDropCount
			} else {
				prev7 += r.NewDropCount
			}
		}

		dropFrequency := float64(totalNewDrops) / float64(windowDays)
		rarity, _ := decimal.NewFromFloat(100.0).Div(decimal.NewFromFloat(1.0 + dropFrequency)).Round(2).Float64()

		var trendPct *float64
		if prev7 > 0 {
			pct, _ := decimal.NewFromInt(last7 - prev7).Div(decimal.NewFromInt(prev7)).Round(4).Float64()
			trendPct = &pct
		}

		availabilityRate, _ := decimal.NewFromInt(int64(len(daysWithDrops))).Div(decimal.NewFromInt(int64(windowDays))).Round(4).Float64()

		out = append(out, metricsstore.VenueRollingMetrics{
			VenueID:             h.VenueID,
			WindowDate:          windowDate,
			DropFrequencyPerDay: dropFrequency,
			RarityScore:         rarity,
			TrendPct:            trendPct,
			AvailabilityRate14d: availabilityRate,
		})
	}
	return out
}
