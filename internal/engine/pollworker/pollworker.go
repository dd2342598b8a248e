// Package pollworker implements the central poll state machine (spec §4.C):
// fetch current availability for one bucket, lease it with an advisory lock,
// diff against the previous snapshot, and apply the resulting projection,
// drop events, and availability-state rows inside one transaction. Metrics
// aggregation for newly-closed slots runs after the transaction commits.
package pollworker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	goccyjson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/resy-watch/discovery-engine/errs"
	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
	"github.com/resy-watch/discovery-engine/internal/domain/dropeventstore"
	"github.com/resy-watch/discovery-engine/internal/domain/metricsstore"
	"github.com/resy-watch/discovery-engine/internal/domain/slotstore"
	"github.com/resy-watch/discovery-engine/internal/domain/statestore"
	"github.com/resy-watch/discovery-engine/internal/domain/venuestore"
	"github.com/resy-watch/discovery-engine/internal/engine/aggregate"
	"github.com/resy-watch/discovery-engine/internal/engine/bucketid"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
	"github.com/resy-watch/discovery-engine/internal/provider"
	"github.com/resy-watch/discovery-engine/internal/telemetry"
)

// Stats summarizes one bucket poll for logging and tests.
type Stats struct {
	Skipped       bool
	SkipReason    string
	BaselineReady bool
	Baseline      int
	Prev          int
	Curr          int
	Added         int
	Deduped       int
	Emitted       int
	ClosedCount   int

	closedRows []statestore.Row
}

// Worker runs the fetch/lock/diff/apply/aggregate pipeline for one bucket.
type Worker struct {
	DB           *db.Store
	Buckets      bucketstore.Store
	Slots        slotstore.Store
	DropEvents   dropeventstore.Store
	State        statestore.Store
	Venues       venuestore.Store
	Metrics      metricsstore.Store
	PartySizes   []int
	NotifyDedupe time.Duration
	Logger       *log.Logger

	pollDuration metric.Float64Histogram
}

// New constructs a Worker.
func New(store *db.Store, buckets bucketstore.Store, slots slotstore.Store, dropEvents dropeventstore.Store, state statestore.Store, venues venuestore.Store, metrics metricsstore.Store, partySizes []int, notifyDedupe time.Duration, logger *log.Logger) *Worker {
	meter := telemetry.Meter("engine.pollworker")
	hist, _ := meter.Float64Histogram("discovery.poll.duration",
		metric.WithDescription("Wall-clock duration of one bucket poll, in milliseconds"),
		metric.WithUnit("ms"))
	return &Worker{
		DB:           store,
		Buckets:      buckets,
		Slots:        slots,
		DropEvents:   dropEvents,
		State:        state,
		Venues:       venues,
		Metrics:      metrics,
		PartySizes:   partySizes,
		NotifyDedupe: notifyDedupe,
		Logger:       logger,
		pollDuration: hist,
	}
}

// Poll runs one fetch/lock/diff/apply/aggregate cycle for the bucket named
// by anchor, fetching current availability through adapter.
func (w *Worker) Poll(ctx context.Context, anchor bucketid.Anchor, adapter provider.Adapter) (Stats, error) {
	started := time.Now()
	defer func() {
		if w.pollDuration != nil {
			w.pollDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
		}
	}()

	slots, err := adapter.SearchAvailability(ctx, anchor.DateStr, anchor.TimeSlot, w.PartySizes)
	if err != nil {
		// A transport failure means availability is unknown, not empty; the
		// caller must abort before step 4 rather than treat this as curr_set=∅
		// (spec §7.1).
		return Stats{}, errs.New("pollworker", errs.CodeTransport,
			errs.WithProvider(adapter.ProviderID()),
			errs.WithCause(err),
			errs.WithField("bucket_id", anchor.BucketID))
	}

	bySlot := make(map[string]provider.NormalizedSlot, len(slots))
	currSet := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		bySlot[s.SlotID] = s
		currSet[s.SlotID] = struct{}{}
	}

	var stats Stats
	stats.Curr = len(currSet)

	txErr := w.DB.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		lockKey := bucketid.AdvisoryLockKey(anchor.BucketID)
		acquired, err := db.TryAdvisoryLock(ctx, tx, lockKey)
		if err != nil {
			return fmt.Errorf("advisory lock %s: %w", anchor.BucketID, err)
		}
		if !acquired {
			// Lost the race for this bucket's advisory lock: recovered
			// locally, skip this tick and let the scheduler re-enqueue
			// (spec §7.2). Not returned as a transaction error.
			lockErr := errs.New("pollworker", errs.CodeLockBusy, errs.WithField("bucket_id", anchor.BucketID))
			stats.Skipped = true
			stats.SkipReason = string(errs.CodeLockBusy)
			if w.Logger != nil {
				w.Logger.Printf("%v", lockErr)
			}
			return nil
		}

		now := time.Now().UTC()
		bucket, exists, err := w.Buckets.Get(ctx, tx, anchor.BucketID)
		if err != nil {
			return fmt.Errorf("get bucket %s: %w", anchor.BucketID, err)
		}

		if !exists || bucket.BaselineSlotIDs == nil {
			sorted := sortedKeys(currSet)
			if err := w.Buckets.Bootstrap(ctx, tx, anchor.BucketID, anchor.DateStr, anchor.TimeSlot, sorted, now); err != nil {
				return fmt.Errorf("bootstrap bucket %s: %w", anchor.BucketID, err)
			}
			if len(sorted) > 0 {
				rows, err := w.buildSlotRows(anchor, adapter.ProviderID(), sorted, bySlot, now, uuid.NewString(), slotstore.StateOpen)
				if err != nil {
					return fmt.Errorf("build bootstrap rows %s: %w", anchor.BucketID, err)
				}
				if err := w.Slots.BulkUpsert(ctx, tx, rows); err != nil {
					return fmt.Errorf("bootstrap slot_availability %s: %w", anchor.BucketID, err)
				}
				if err := w.upsertVenues(ctx, tx, sorted, bySlot, now); err != nil {
					return err
				}
			}
			stats.BaselineReady = true
			stats.Baseline, stats.Prev = len(sorted), len(sorted)
			return nil
		}

		prevSet := make(map[string]struct{}, len(bucket.PrevSlotIDs))
		for _, id := range bucket.PrevSlotIDs {
			prevSet[id] = struct{}{}
		}
		stats.Baseline = len(bucket.BaselineSlotIDs)
		stats.Prev = len(prevSet)

		added := diff(currSet, prevSet)
		stats.Added = len(added)

		prevVenueIDs, err := w.Slots.OpenVenueIDs(ctx, tx, anchor.BucketID)
		if err != nil {
			return fmt.Errorf("open venue ids %s: %w", anchor.BucketID, err)
		}

		dropsVenueZero := make([]string, 0, len(added))
		for _, sid := range added {
			if _, seen := prevVenueIDs[bySlot[sid].VenueID]; !seen {
				dropsVenueZero = append(dropsVenueZero, sid)
			}
		}

		cutoff := now.Add(-w.NotifyDedupe)
		recentlyNotified, err := w.DropEvents.RecentlyNotifiedSlotIDs(ctx, tx, anchor.BucketID, cutoff)
		if err != nil {
			return fmt.Errorf("recently notified %s: %w", anchor.BucketID, err)
		}
		dropsToEmit := make([]string, 0, len(dropsVenueZero))
		for _, sid := range dropsVenueZero {
			if _, dup := recentlyNotified[sid]; !dup {
				dropsToEmit = append(dropsToEmit, sid)
			}
		}
		stats.Deduped = len(dropsVenueZero) - len(dropsToEmit)
		stats.Emitted = len(dropsToEmit)

		w.checkBaselineEcho(anchor, bucket, currSet, dropsToEmit)

		runID := uuid.NewString()
		if len(added) > 0 {
			rows, err := w.buildSlotRows(anchor, adapter.ProviderID(), added, bySlot, now, runID, slotstore.StateOpen)
			if err != nil {
				return fmt.Errorf("build added rows %s: %w", anchor.BucketID, err)
			}
			if err := w.Slots.BulkUpsert(ctx, tx, rows); err != nil {
				return fmt.Errorf("upsert added slots %s: %w", anchor.BucketID, err)
			}
			if err := w.upsertVenues(ctx, tx, added, bySlot, now); err != nil {
				return err
			}

			stateRows := make([]statestore.Row, 0, len(added))
			for _, sid := range added {
				s := bySlot[sid]
				stateRows = append(stateRows, statestore.Row{
					BucketID: anchor.BucketID,
					SlotID:   sid,
					VenueID:  s.VenueID,
					SlotDate: anchor.DateStr,
					OpenedAt: now,
				})
			}
			if err := w.State.UpsertOpen(ctx, tx, stateRows); err != nil {
				return fmt.Errorf("upsert open state %s: %w", anchor.BucketID, err)
			}
		}

		if len(dropsToEmit) > 0 {
			events := make([]dropeventstore.Event, 0, len(dropsToEmit))
			for _, sid := range dropsToEmit {
				s := bySlot[sid]
				payload, err := goccyjson.Marshal(s.Payload)
				if err != nil {
					return fmt.Errorf("marshal payload %s: %w", sid, err)
				}
				events = append(events, dropeventstore.Event{
					BucketID:    anchor.BucketID,
					SlotID:      sid,
					OpenedAt:    now,
					VenueID:     s.VenueID,
					VenueName:   s.VenueName,
					PayloadJSON: payload,
					DedupeKey:   bucketid.DedupeKey(anchor.BucketID, sid, now),
					SlotDate:    anchor.DateStr,
					SlotTime:    anchor.TimeSlot,
				})
			}
			if err := w.DropEvents.InsertIgnoreDuplicates(ctx, tx, events); err != nil {
				return fmt.Errorf("insert drop events %s: %w", anchor.BucketID, err)
			}
		}

		closedSlotIDs, err := w.Slots.CloseMissing(ctx, tx, anchor.BucketID, currSet, now, runID)
		if err != nil {
			return fmt.Errorf("close missing slots %s: %w", anchor.BucketID, err)
		}
		stats.ClosedCount = len(closedSlotIDs)

		if len(closedSlotIDs) > 0 {
			closedRows, err := w.State.CloseForSlots(ctx, tx, anchor.BucketID, closedSlotIDs, now)
			if err != nil {
				return fmt.Errorf("close state %s: %w", anchor.BucketID, err)
			}
			if err := w.DropEvents.DeletePushedForSlots(ctx, tx, anchor.BucketID, closedSlotIDs); err != nil {
				return fmt.Errorf("delete pushed drop events %s: %w", anchor.BucketID, err)
			}
			stats.closedRows = closedRows
		}

		if err := w.Buckets.SetPrev(ctx, tx, anchor.BucketID, sortedKeys(currSet), now); err != nil {
			return fmt.Errorf("set prev %s: %w", anchor.BucketID, err)
		}

		return nil
	})
	if txErr != nil {
		return Stats{}, txErr
	}

	if len(stats.closedRows) > 0 {
		if err := w.aggregateClosed(ctx, anchor, stats.closedRows); err != nil {
			if w.Logger != nil {
				w.Logger.Printf("aggregate closed slots for %s: %v", anchor.BucketID, err)
			}
		}
	}

	return stats, nil
}

// aggregateClosed folds newly-closed availability-state rows into venue and
// market metrics, then marks and deletes the aggregated rows. Runs outside
// the poll transaction, matching the original pipeline's post-commit
// aggregation step (spec §4.C step 12).
func (w *Worker) aggregateClosed(ctx context.Context, anchor bucketid.Anchor, rows []statestore.Row) error {
	events := make([]aggregate.ClosedEvent, 0, len(rows))
	bucketIDs := make([]string, 0, len(rows))
	slotIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.ClosedAt == nil || r.DurationSeconds == nil {
			continue
		}
		events = append(events, aggregate.ClosedEvent{
			VenueID:         r.VenueID,
			DurationSeconds: *r.DurationSeconds,
			SlotDate:        r.SlotDate,
			BucketID:        r.BucketID,
			OpenedAt:        r.OpenedAt,
		})
		bucketIDs = append(bucketIDs, r.BucketID)
		slotIDs = append(slotIDs, r.SlotID)
	}
	if len(events) == 0 {
		return nil
	}

	deltas := aggregate.BuildVenueDeltas(events)
	scarcity := make(map[string]float64, len(deltas))
	for _, d := range deltas {
		scarcity[d.VenueID] = aggregate.ScarcityScore(&d.AvgDurationSec, d.NewDropCount, d.ClosedCount)
	}
	if err := w.Metrics.IncrementVenueMetrics(ctx, deltas, scarcity); err != nil {
		return fmt.Errorf("increment venue metrics: %w", err)
	}

	hourCounts := aggregate.BuildMarketHourCounts(events)
	for windowDate, counts := range hourCounts {
		if err := w.Metrics.IncrementMarketMetrics(ctx, windowDate, "by_hour", counts); err != nil {
			return fmt.Errorf("increment market metrics %s: %w", windowDate, err)
		}
	}

	now := time.Now().UTC()
	if err := w.State.MarkAggregated(ctx, w.DB.Pool, bucketIDs, slotIDs, now); err != nil {
		return fmt.Errorf("mark aggregated: %w", err)
	}
	if _, err := w.State.DeleteAggregatedClosed(ctx, w.DB.Pool); err != nil {
		return fmt.Errorf("delete aggregated closed: %w", err)
	}
	return nil
}

func (w *Worker) upsertVenues(ctx context.Context, tx pgx.Tx, slotIDs []string, bySlot map[string]provider.NormalizedSlot, now time.Time) error {
	seen := make(map[string]struct{}, len(slotIDs))
	for _, sid := range slotIDs {
		s := bySlot[sid]
		if s.VenueID == "" {
			continue
		}
		if _, ok := seen[s.VenueID]; ok {
			continue
		}
		seen[s.VenueID] = struct{}{}
		if err := w.Venues.Upsert(ctx, tx, s.VenueID, s.VenueName, now); err != nil {
			return fmt.Errorf("upsert venue %s: %w", s.VenueID, err)
		}
	}
	return nil
}

func (w *Worker) buildSlotRows(anchor bucketid.Anchor, providerID string, slotIDs []string, bySlot map[string]provider.NormalizedSlot, now time.Time, runID string, state slotstore.State) ([]slotstore.Row, error) {
	rows := make([]slotstore.Row, 0, len(slotIDs))
	for _, sid := range slotIDs {
		s := bySlot[sid]
		payload, err := goccyjson.Marshal(s.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload %s: %w", sid, err)
		}
		rows = append(rows, slotstore.Row{
			BucketID:     anchor.BucketID,
			SlotID:       sid,
			State:        state,
			OpenedAt:     now,
			LastSeenAt:   now,
			RunID:        runID,
			UpdatedAt:    now,
			VenueID:      s.VenueID,
			VenueName:    s.VenueName,
			PayloadJSON:  payload,
			TimeBucket:   bucketid.TimeBucket(anchor.TimeSlot),
			SlotDate:     anchor.DateStr,
			SlotTime:     anchor.TimeSlot,
			Provider:     providerID,
			Neighborhood: payloadString(s.Payload, "neighborhood"),
			PriceRange:   payloadString(s.Payload, "price_range"),
		})
	}
	return rows, nil
}

// payloadString reads an optional string field out of a provider payload
// (spec §6: neighborhood/price_range are optional and provider-specific).
func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return v
}

// checkBaselineEcho detects invariant 1 (spec §7.4): a computed drop slot
// that is already present in the bucket's stored baseline set. The poll
// still completes so the system recovers, but this is logged for alerting,
// using GetFeedItemDebug to explain the first offending slot's transition.
func (w *Worker) checkBaselineEcho(anchor bucketid.Anchor, bucket bucketstore.Bucket, currSet map[string]struct{}, dropsToEmit []string) {
	if len(dropsToEmit) == 0 || len(bucket.BaselineSlotIDs) == 0 {
		return
	}
	baseline := make(map[string]struct{}, len(bucket.BaselineSlotIDs))
	for _, id := range bucket.BaselineSlotIDs {
		baseline[id] = struct{}{}
	}
	var echoed []string
	for _, sid := range dropsToEmit {
		if _, ok := baseline[sid]; ok {
			echoed = append(echoed, sid)
		}
	}
	if len(echoed) == 0 {
		return
	}
	debug := GetFeedItemDebug(bucket, currSet, echoed[0])
	invErr := errs.New("pollworker", errs.CodeInvariantViolation,
		errs.WithField("bucket_id", anchor.BucketID),
		errs.WithField("echoed_count", strconv.Itoa(len(echoed))),
		errs.WithField("emitted_count", strconv.Itoa(len(dropsToEmit))),
		errs.WithField("first_slot_id", echoed[0]),
		errs.WithField("reason", debug.Reason))
	if w.Logger != nil {
		w.Logger.Printf("%v", invErr)
	}
}

// diff returns the keys present in curr but not in prev.
func diff(curr, prev map[string]struct{}) []string {
	out := make([]string, 0)
	for k := range curr {
		if _, ok := prev[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
