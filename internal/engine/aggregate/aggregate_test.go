package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/resy-watch/discovery-engine/internal/domain/metricsstore"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestScarcityScoreNeverExceeds100(t *testing.T) {
	got := ScarcityScore(ptr(1.0), 0, 50)
	if got > 100 {
		t.Fatalf("expected score capped at 100, got %v", got)
	}
}

func TestScarcityScoreFastSlotsScoreHigherThanSlow(t *testing.T) {
	fast := ScarcityScore(ptr(30), 5, 5)
	slow := ScarcityScore(ptr(3600), 5, 5)
	if fast <= slow {
		t.Fatalf("expected fast-closing slots to score higher: fast=%v slow=%v", fast, slow)
	}
}

func TestScarcityScoreDefaultsWhenAvgNil(t *testing.T) {
	got := ScarcityScore(nil, 1, 1)
	want := ScarcityScore(ptr(600), 1, 1)
	if !approxEqual(got, want, 0.001) {
		t.Fatalf("expected nil avg to use 600s baseline, got %v want %v", got, want)
	}
}

func TestWindowDateFallsBackToBucketPrefix(t *testing.T) {
	e := ClosedEvent{BucketID: "2026-02-12_20:30"}
	if got := WindowDate(e); got != "2026-02-12" {
		t.Fatalf("expected bucket-derived date, got %s", got)
	}
}

func TestBuildVenueDeltasGroupsByVenueAndDate(t *testing.T) {
	events := []ClosedEvent{
		{VenueID: "v1", SlotDate: "2026-02-12", DurationSeconds: 100},
		{VenueID: "v1", SlotDate: "2026-02-12", DurationSeconds: 300},
		{VenueID: "v2", SlotDate: "2026-02-12", DurationSeconds: 50},
	}
	deltas := BuildVenueDeltas(events)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 grouped deltas, got %d", len(deltas))
	}
	for _, d := range deltas {
		if d.VenueID == "v1" {
			if d.ClosedCount != 2 || d.AvgDurationSec != 200 {
				t.Fatalf("unexpected v1 delta: %+v", d)
			}
		}
	}
}

func TestRollingMetricsComputesTrendAndAvailability(t *testing.T) {
	histories := []VenueHistory{
		{
			VenueID: "v1",
			Rows: []metricsstore.VenueMetrics{
				{WindowDate: "2026-02-01", NewDropCount: 2},
				{WindowDate: "2026-02-10", NewDropCount: 4},
			},
		},
	}
	rows := RollingMetrics(histories, "2026-02-12", 14)
	if len(rows) != 1 {
		t.Fatalf("expected 1 rolling row, got %d", len(rows))
	}
	r := rows[0]
	if r.TrendPct == nil {
		t.Fatal("expected trend to be computed when prior period has drops")
	}
}

func ptr(f float64) *float64 { return &f }
