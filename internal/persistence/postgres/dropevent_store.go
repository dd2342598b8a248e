package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/resy-watch/discovery-engine/internal/domain/dropeventstore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

const (
	sqlDropEventRecentSlotIDs = `
SELECT slot_id FROM drop_events
WHERE bucket_id = @bucket_id AND opened_at >= @since`

	sqlDropEventInsert = `
INSERT INTO drop_events (bucket_id, slot_id, opened_at, venue_id, venue_name, payload_json, dedupe_key, push_sent_at, slot_date, slot_time)
VALUES (@bucket_id, @slot_id, @opened_at, @venue_id, @venue_name, @payload_json, @dedupe_key, NULL, @slot_date, @slot_time)
ON CONFLICT (dedupe_key) DO NOTHING`

	sqlDropEventDeletePushedForSlots = `
DELETE FROM drop_events
WHERE bucket_id = @bucket_id AND slot_id = ANY(@slot_ids) AND push_sent_at IS NOT NULL`

	sqlDropEventDeleteBucketPrefixBefore = `
DELETE FROM drop_events WHERE bucket_id < (@window_start || '_')`

	sqlDropEventDeleteOlderPushed = `
DELETE FROM drop_events WHERE push_sent_at IS NOT NULL AND opened_at < @cutoff`

	sqlDropEventSelectUnsentWithinWindow = `
SELECT id, bucket_id, slot_id, opened_at, venue_id, venue_name, payload_json, dedupe_key, push_sent_at, slot_date, slot_time
FROM drop_events
WHERE push_sent_at IS NULL AND opened_at >= @since
ORDER BY opened_at ASC
LIMIT @limit`

	sqlDropEventMarkPushSent = `
UPDATE drop_events SET push_sent_at = @sent_at WHERE id = ANY(@ids)`
)

// DropEventStore implements dropeventstore.Store against PostgreSQL.
type DropEventStore struct{}

// NewDropEventStore constructs a DropEventStore.
func NewDropEventStore() *DropEventStore { return &DropEventStore{} }

var _ dropeventstore.Store = (*DropEventStore)(nil)

func (s *DropEventStore) RecentlyNotifiedSlotIDs(ctx context.Context, q db.Querier, bucketID string, since time.Time) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, sqlDropEventRecentSlotIDs, pgx.NamedArgs{"bucket_id": bucketID, "since": since})
	if err != nil {
		return nil, fmt.Errorf("select recent drop events for %s: %w", bucketID, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var slotID string
		if err := rows.Scan(&slotID); err != nil {
			return nil, fmt.Errorf("scan slot id: %w", err)
		}
		out[slotID] = struct{}{}
	}
	return out, rows.Err()
}

func (s *DropEventStore) InsertIgnoreDuplicates(ctx context.Context, q db.Querier, events []dropeventstore.Event) error {
	for _, e := range events {
		_, err := q.Exec(ctx, sqlDropEventInsert, pgx.NamedArgs{
			"bucket_id":    e.BucketID,
			"slot_id":      e.SlotID,
			"opened_at":    e.OpenedAt,
			"venue_id":     e.VenueID,
			"venue_name":   e.VenueName,
			"payload_json": e.PayloadJSON,
			"dedupe_key":   e.DedupeKey,
			"slot_date":    e.SlotDate,
			"slot_time":    e.SlotTime,
		})
		if err != nil {
			return fmt.Errorf("insert drop event %s/%s: %w", e.BucketID, e.SlotID, err)
		}
	}
	return nil
}

func (s *DropEventStore) DeletePushedForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string) error {
	if len(slotIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, sqlDropEventDeletePushedForSlots, pgx.NamedArgs{
		"bucket_id": bucketID,
		"slot_ids":  slotIDs,
	})
	if err != nil {
		return fmt.Errorf("delete pushed drop events for %s: %w", bucketID, err)
	}
	return nil
}

func (s *DropEventStore) DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	tag, err := q.Exec(ctx, sqlDropEventDeleteBucketPrefixBefore, pgx.NamedArgs{"window_start": windowStart})
	if err != nil {
		return 0, fmt.Errorf("delete drop_events before %s: %w", windowStart, err)
	}
	return tag.RowsAffected(), nil
}

func (s *DropEventStore) DeleteOlderPushed(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, sqlDropEventDeleteOlderPushed, pgx.NamedArgs{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("delete pushed drop_events older than %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func (s *DropEventStore) SelectUnsentWithinWindow(ctx context.Context, q db.Querier, window time.Duration, limit int) ([]dropeventstore.Event, error) {
	since := time.Now().Add(-window)
	rows, err := q.Query(ctx, sqlDropEventSelectUnsentWithinWindow, pgx.NamedArgs{"since": since, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("select unsent drop events: %w", err)
	}
	defer rows.Close()

	var out []dropeventstore.Event
	for rows.Next() {
		var e dropeventstore.Event
		if err := rows.Scan(&e.ID, &e.BucketID, &e.SlotID, &e.OpenedAt, &e.VenueID, &e.VenueName, &e.PayloadJSON, &e.DedupeKey, &e.PushSentAt, &e.SlotDate, &e.SlotTime); err != nil {
			return nil, fmt.Errorf("scan drop event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DropEventStore) MarkPushSent(ctx context.Context, q db.Querier, ids []int64, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, sqlDropEventMarkPushSent, pgx.NamedArgs{"ids": ids, "sent_at": sentAt})
	if err != nil {
		return fmt.Errorf("mark push sent: %w", err)
	}
	return nil
}
