package retention

import (
	"context"
	"testing"
	"time"

	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
	"github.com/resy-watch/discovery-engine/internal/domain/dropeventstore"
	"github.com/resy-watch/discovery-engine/internal/domain/metricsstore"
	"github.com/resy-watch/discovery-engine/internal/domain/notifystore"
	"github.com/resy-watch/discovery-engine/internal/domain/slotstore"
	"github.com/resy-watch/discovery-engine/internal/domain/statestore"
	"github.com/resy-watch/discovery-engine/internal/domain/venuestore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

type fakeBuckets struct {
	deleteBeforeCalls int
	ensured           []bucketstore.Anchor
}

func (f *fakeBuckets) Get(ctx context.Context, q db.Querier, bucketID string) (bucketstore.Bucket, bool, error) {
	return bucketstore.Bucket{}, false, nil
}
func (f *fakeBuckets) EnsureBuckets(ctx context.Context, q db.Querier, anchors []bucketstore.Anchor) error {
	f.ensured = append(f.ensured, anchors...)
	return nil
}
func (f *fakeBuckets) WindowBucketIDs(ctx context.Context, q db.Querier, anchors []bucketstore.Anchor) []string {
	return nil
}
func (f *fakeBuckets) Bootstrap(ctx context.Context, q db.Querier, bucketID, dateStr, timeSlot string, slotIDs []string, scannedAt time.Time) error {
	return nil
}
func (f *fakeBuckets) SetPrev(ctx context.Context, q db.Querier, bucketID string, slotIDs []string, scannedAt time.Time) error {
	return nil
}
func (f *fakeBuckets) DeleteBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	f.deleteBeforeCalls++
	return 0, nil
}

var _ bucketstore.Store = (*fakeBuckets)(nil)

type fakeSlots struct{ deleteCalls int }

func (f *fakeSlots) BulkUpsert(ctx context.Context, q db.Querier, rows []slotstore.Row) error {
	return nil
}
func (f *fakeSlots) OpenVenueIDs(ctx context.Context, q db.Querier, bucketID string) (map[string]struct{}, error) {
	return nil, nil
}
func (f *fakeSlots) CloseMissing(ctx context.Context, q db.Querier, bucketID string, currSet map[string]struct{}, closedAt time.Time, runID string) ([]string, error) {
	return nil, nil
}
func (f *fakeSlots) DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	f.deleteCalls++
	return 0, nil
}

var _ slotstore.Store = (*fakeSlots)(nil)

type fakeDrops struct {
	prefixCalls  int
	pushedCalls  int
}

func (f *fakeDrops) RecentlyNotifiedSlotIDs(ctx context.Context, q db.Querier, bucketID string, since time.Time) (map[string]struct{}, error) {
	return nil, nil
}
func (f *fakeDrops) InsertIgnoreDuplicates(ctx context.Context, q db.Querier, events []dropeventstore.Event) error {
	return nil
}
func (f *fakeDrops) DeletePushedForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string) error {
	return nil
}
func (f *fakeDrops) DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	f.prefixCalls++
	return 0, nil
}
func (f *fakeDrops) DeleteOlderPushed(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error) {
	f.pushedCalls++
	return 0, nil
}
func (f *fakeDrops) SelectUnsentWithinWindow(ctx context.Context, q db.Querier, window time.Duration, limit int) ([]dropeventstore.Event, error) {
	return nil, nil
}
func (f *fakeDrops) MarkPushSent(ctx context.Context, q db.Querier, ids []int64, sentAt time.Time) error {
	return nil
}

var _ dropeventstore.Store = (*fakeDrops)(nil)

type fakeState struct{ deleteOutsideCalls int }

func (f *fakeState) UpsertOpen(ctx context.Context, q db.Querier, rows []statestore.Row) error {
	return nil
}
func (f *fakeState) CloseForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string, closedAt time.Time) ([]statestore.Row, error) {
	return nil, nil
}
func (f *fakeState) SelectUnaggregatedClosed(ctx context.Context, q db.Querier, limit int) ([]statestore.Row, error) {
	return nil, nil
}
func (f *fakeState) MarkAggregated(ctx context.Context, q db.Querier, bucketIDs, slotIDs []string, aggregatedAt time.Time) error {
	return nil
}
func (f *fakeState) DeleteAggregatedClosed(ctx context.Context, q db.Querier) (int64, error) {
	return 0, nil
}
func (f *fakeState) DeleteOutsideWindow(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	f.deleteOutsideCalls++
	return 0, nil
}

var _ statestore.Store = (*fakeState)(nil)

type fakeVenues struct{ cutoff time.Time }

func (f *fakeVenues) Upsert(ctx context.Context, q db.Querier, venueID, venueName string, seenAt time.Time) error {
	return nil
}
func (f *fakeVenues) DeleteNotSeenSince(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 0, nil
}

var _ venuestore.Store = (*fakeVenues)(nil)

type fakeMetrics struct {
	cutoffs     []string
	sinceCalls  []string
	history     []metricsstore.VenueMetrics
	rollingRows []metricsstore.VenueRollingMetrics
}

func (f *fakeMetrics) IncrementVenueMetrics(ctx context.Context, deltas []metricsstore.VenueMetricsDelta, scarcity map[string]float64) error {
	return nil
}
func (f *fakeMetrics) IncrementMarketMetrics(ctx context.Context, windowDate, metricType string, hourCounts map[string]int64) error {
	return nil
}
func (f *fakeMetrics) UpsertVenueRollingMetrics(ctx context.Context, rows []metricsstore.VenueRollingMetrics) error {
	f.rollingRows = append(f.rollingRows, rows...)
	return nil
}
func (f *fakeMetrics) ListVenueMetricsSince(ctx context.Context, since string) ([]metricsstore.VenueMetrics, error) {
	f.sinceCalls = append(f.sinceCalls, since)
	return f.history, nil
}
func (f *fakeMetrics) DeleteMetricsOlderThan(ctx context.Context, cutoff string) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

var _ metricsstore.Store = (*fakeMetrics)(nil)

type fakeNotifications struct{ deleteCalls int }

func (f *fakeNotifications) ListRecipients(ctx context.Context) ([]notifystore.Recipient, error) {
	return nil, nil
}
func (f *fakeNotifications) RecordUserNotification(ctx context.Context, recipientID string, dropEventID int64) error {
	return nil
}
func (f *fakeNotifications) DeleteNotificationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls++
	return 0, nil
}

var _ notifystore.Store = (*fakeNotifications)(nil)

func newTestManager() (*Manager, *fakeBuckets, *fakeSlots, *fakeDrops, *fakeState, *fakeVenues, *fakeMetrics, *fakeNotifications) {
	buckets := &fakeBuckets{}
	slots := &fakeSlots{}
	drops := &fakeDrops{}
	state := &fakeState{}
	venues := &fakeVenues{}
	metrics := &fakeMetrics{}
	notifications := &fakeNotifications{}
	cfg := Config{
		DropEventsRetention:    7 * 24 * time.Hour,
		NotificationsRetain:    30 * 24 * time.Hour,
		MetricsRetentionDays:   90,
		VenuesRetentionDays:    30,
		RollingMetricsKeepDays: 60,
		WindowDays:             14,
		TimeSlots:              []string{"19:00", "20:00"},
	}
	mgr := New(cfg, &db.Store{}, buckets, slots, drops, state, venues, metrics, notifications, nil)
	return mgr, buckets, slots, drops, state, venues, metrics, notifications
}

func TestPruneTickPrunesBucketsEveryTick(t *testing.T) {
	mgr, buckets, _, drops, _, _, _, _ := newTestManager()
	if err := mgr.PruneTick(context.Background(), "2026-07-01", 1); err != nil {
		t.Fatalf("PruneTick: %v", err)
	}
	if buckets.deleteBeforeCalls != 1 {
		t.Fatalf("expected buckets pruned every tick, got %d calls", buckets.deleteBeforeCalls)
	}
	if drops.prefixCalls != 0 || drops.pushedCalls != 0 {
		t.Fatalf("expected drop events not pruned on odd tick, got prefix=%d pushed=%d", drops.prefixCalls, drops.pushedCalls)
	}
}

func TestPruneTickPrunesDropEventsOnEvenTick(t *testing.T) {
	mgr, _, _, drops, _, _, _, _ := newTestManager()
	if err := mgr.PruneTick(context.Background(), "2026-07-01", 2); err != nil {
		t.Fatalf("PruneTick: %v", err)
	}
	if drops.prefixCalls != 1 || drops.pushedCalls != 1 {
		t.Fatalf("expected drop events pruned on even tick, got prefix=%d pushed=%d", drops.prefixCalls, drops.pushedCalls)
	}
}

func TestSlidingWindowPrunesAllTablesAndSeedsNewDay(t *testing.T) {
	mgr, buckets, slots, drops, state, venues, metrics, notifications := newTestManager()
	today := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	if err := mgr.SlidingWindow(context.Background(), today); err != nil {
		t.Fatalf("SlidingWindow: %v", err)
	}

	if buckets.deleteBeforeCalls != 1 {
		t.Fatalf("expected one bucket prune, got %d", buckets.deleteBeforeCalls)
	}
	if drops.prefixCalls != 1 {
		t.Fatalf("expected one drop event prune, got %d", drops.prefixCalls)
	}
	if slots.deleteCalls != 1 {
		t.Fatalf("expected one slot prune, got %d", slots.deleteCalls)
	}
	if state.deleteOutsideCalls != 1 {
		t.Fatalf("expected one state prune, got %d", state.deleteOutsideCalls)
	}
	if len(metrics.cutoffs) != 1 || metrics.cutoffs[0] != "2026-04-30" {
		t.Fatalf("expected metrics cutoff 90 days before today, got %v", metrics.cutoffs)
	}
	if venues.cutoff.IsZero() {
		t.Fatalf("expected venues cutoff to be set")
	}
	if notifications.deleteCalls != 1 {
		t.Fatalf("expected one notifications prune, got %d", notifications.deleteCalls)
	}

	wantNewDay := today.AddDate(0, 0, mgr.cfg.WindowDays-1).Format("2006-01-02")
	if len(buckets.ensured) != len(mgr.cfg.TimeSlots) {
		t.Fatalf("expected %d new-day anchors, got %d", len(mgr.cfg.TimeSlots), len(buckets.ensured))
	}
	for _, a := range buckets.ensured {
		if a.DateStr != wantNewDay {
			t.Fatalf("expected new-day anchor date %s, got %s", wantNewDay, a.DateStr)
		}
	}

	if len(metrics.sinceCalls) != 1 || metrics.sinceCalls[0] != "2026-07-15" {
		t.Fatalf("expected rolling rollup to query 14 days back, got %v", metrics.sinceCalls)
	}
}

func TestAggregateBeforePruneWritesRollingMetrics(t *testing.T) {
	mgr, _, _, _, _, _, metrics, _ := newTestManager()
	metrics.history = []metricsstore.VenueMetrics{
		{VenueID: "v1", WindowDate: "2026-07-20", NewDropCount: 3},
		{VenueID: "v1", WindowDate: "2026-07-25", NewDropCount: 5},
		{VenueID: "v2", WindowDate: "2026-07-22", NewDropCount: 0},
	}

	if err := mgr.AggregateBeforePrune(context.Background(), "2026-07-29"); err != nil {
		t.Fatalf("AggregateBeforePrune: %v", err)
	}

	if len(metrics.rollingRows) != 2 {
		t.Fatalf("expected one rolling row per venue, got %d", len(metrics.rollingRows))
	}
	byVenue := make(map[string]metricsstore.VenueRollingMetrics, len(metrics.rollingRows))
	for _, r := range metrics.rollingRows {
		byVenue[r.VenueID] = r
	}
	if byVenue["v1"].DropFrequencyPerDay <= 0 {
		t.Fatalf("expected v1 to have a positive drop frequency, got %+v", byVenue["v1"])
	}
	if byVenue["v2"].DropFrequencyPerDay != 0 {
		t.Fatalf("expected v2 with zero drops to have zero frequency, got %+v", byVenue["v2"])
	}
}

func TestAggregateBeforePruneNoopOnEmptyHistory(t *testing.T) {
	mgr, _, _, _, _, _, metrics, _ := newTestManager()

	if err := mgr.AggregateBeforePrune(context.Background(), "2026-07-29"); err != nil {
		t.Fatalf("AggregateBeforePrune: %v", err)
	}
	if len(metrics.rollingRows) != 0 {
		t.Fatalf("expected no rolling rows written for empty history, got %d", len(metrics.rollingRows))
	}
}
