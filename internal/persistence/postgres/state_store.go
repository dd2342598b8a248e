package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/resy-watch/discovery-engine/internal/domain/statestore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

const (
	sqlStateUpsertOpen = `
INSERT INTO availability_state (bucket_id, slot_id, venue_id, slot_date, opened_at, closed_at, duration_seconds, aggregated_at)
VALUES (@bucket_id, @slot_id, @venue_id, @slot_date, @opened_at, NULL, NULL, NULL)
ON CONFLICT (bucket_id, slot_id) DO UPDATE SET
  opened_at = excluded.opened_at,
  closed_at = NULL,
  duration_seconds = NULL,
  aggregated_at = NULL`

	sqlStateCloseForSlots = `
UPDATE availability_state
SET closed_at = @closed_at, duration_seconds = EXTRACT(EPOCH FROM (@closed_at - opened_at))::bigint
WHERE bucket_id = @bucket_id AND slot_id = ANY(@slot_ids) AND closed_at IS NULL
RETURNING bucket_id, slot_id, venue_id, slot_date, opened_at, closed_at, duration_seconds, aggregated_at`

	sqlStateSelectUnaggregatedClosed = `
SELECT bucket_id, slot_id, venue_id, slot_date, opened_at, closed_at, duration_seconds, aggregated_at
FROM availability_state
WHERE closed_at IS NOT NULL AND aggregated_at IS NULL
LIMIT @limit`

	sqlStateMarkAggregated = `
UPDATE availability_state AS s SET aggregated_at = @aggregated_at
FROM unnest(@bucket_ids::text[], @slot_ids::text[]) AS pair(bucket_id, slot_id)
WHERE s.bucket_id = pair.bucket_id AND s.slot_id = pair.slot_id`

	sqlStateDeleteAggregatedClosed = `
DELETE FROM availability_state WHERE closed_at IS NOT NULL AND aggregated_at IS NOT NULL`

	sqlStateDeleteOutsideWindow = `
DELETE FROM availability_state WHERE bucket_id < (@window_start || '_')`
)

// StateStore implements statestore.Store against PostgreSQL.
type StateStore struct{}

// NewStateStore constructs a StateStore.
func NewStateStore() *StateStore { return &StateStore{} }

var _ statestore.Store = (*StateStore)(nil)

func (s *StateStore) UpsertOpen(ctx context.Context, q db.Querier, rows []statestore.Row) error {
	for _, r := range rows {
		_, err := q.Exec(ctx, sqlStateUpsertOpen, pgx.NamedArgs{
			"bucket_id": r.BucketID,
			"slot_id":   r.SlotID,
			"venue_id":  r.VenueID,
			"slot_date": r.SlotDate,
			"opened_at": r.OpenedAt,
		})
		if err != nil {
			return fmt.Errorf("upsert open state %s/%s: %w", r.BucketID, r.SlotID, err)
		}
	}
	return nil
}

func (s *StateStore) CloseForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string, closedAt time.Time) ([]statestore.Row, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, sqlStateCloseForSlots, pgx.NamedArgs{
		"bucket_id": bucketID,
		"slot_ids":  slotIDs,
		"closed_at": closedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("close state for %s: %w", bucketID, err)
	}
	defer rows.Close()

	var out []statestore.Row
	for rows.Next() {
		var r statestore.Row
		if err := rows.Scan(&r.BucketID, &r.SlotID, &r.VenueID, &r.SlotDate, &r.OpenedAt, &r.ClosedAt, &r.DurationSeconds, &r.AggregatedAt); err != nil {
			return nil, fmt.Errorf("scan closed state row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *StateStore) SelectUnaggregatedClosed(ctx context.Context, q db.Querier, limit int) ([]statestore.Row, error) {
	rows, err := q.Query(ctx, sqlStateSelectUnaggregatedClosed, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("select unaggregated closed state: %w", err)
	}
	defer rows.Close()

	var out []statestore.Row
	for rows.Next() {
		var r statestore.Row
		if err := rows.Scan(&r.BucketID, &r.SlotID, &r.VenueID, &r.SlotDate, &r.OpenedAt, &r.ClosedAt, &r.DurationSeconds, &r.AggregatedAt); err != nil {
			return nil, fmt.Errorf("scan unaggregated state row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *StateStore) MarkAggregated(ctx context.Context, q db.Querier, bucketIDs, slotIDs []string, aggregatedAt time.Time) error {
	if len(bucketIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, sqlStateMarkAggregated, pgx.NamedArgs{
		"bucket_ids":    bucketIDs,
		"slot_ids":      slotIDs,
		"aggregated_at": aggregatedAt,
	})
	if err != nil {
		return fmt.Errorf("mark aggregated: %w", err)
	}
	return nil
}

func (s *StateStore) DeleteAggregatedClosed(ctx context.Context, q db.Querier) (int64, error) {
	tag, err := q.Exec(ctx, sqlStateDeleteAggregatedClosed)
	if err != nil {
		return 0, fmt.Errorf("delete aggregated closed state: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *StateStore) DeleteOutsideWindow(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	tag, err := q.Exec(ctx, sqlStateDeleteOutsideWindow, pgx.NamedArgs{"window_start": windowStart})
	if err != nil {
		return 0, fmt.Errorf("delete state outside window: %w", err)
	}
	return tag.RowsAffected(), nil
}
