package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/resy-watch/discovery-engine/internal/domain/slotstore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// pollBatchSize mirrors original_source's POLL_BATCH_SIZE: BulkUpsert walks
// the rows in chunks of this size, though each row is still sent as its own
// statement.
const pollBatchSize = 500

const (
	sqlSlotUpsert = `
INSERT INTO slot_availability (
  bucket_id, slot_id, state, opened_at, closed_at, last_seen_at, run_id, updated_at,
  venue_id, venue_name, payload_json, time_bucket, slot_date, slot_time, provider, neighborhood, price_range
) VALUES (
  @bucket_id, @slot_id, @state, @opened_at, NULL, @last_seen_at, @run_id, @updated_at,
  @venue_id, @venue_name, @payload_json, @time_bucket, @slot_date, @slot_time, @provider, @neighborhood, @price_range
)
ON CONFLICT (bucket_id, slot_id) DO UPDATE SET
  state = excluded.state,
  opened_at = CASE WHEN slot_availability.state = 'closed' THEN excluded.opened_at ELSE slot_availability.opened_at END,
  closed_at = NULL,
  last_seen_at = excluded.last_seen_at,
  run_id = excluded.run_id,
  updated_at = excluded.updated_at,
  venue_id = excluded.venue_id,
  venue_name = excluded.venue_name,
  payload_json = excluded.payload_json,
  time_bucket = excluded.time_bucket,
  slot_date = excluded.slot_date,
  slot_time = excluded.slot_time,
  provider = excluded.provider,
  neighborhood = excluded.neighborhood,
  price_range = excluded.price_range
WHERE slot_availability.updated_at < excluded.updated_at`

	sqlSlotOpenVenueIDs = `
SELECT DISTINCT venue_id FROM slot_availability
WHERE bucket_id = @bucket_id AND state = 'open'`

	sqlSlotSelectOpen = `
SELECT slot_id FROM slot_availability
WHERE bucket_id = @bucket_id AND state = 'open'`

	sqlSlotClose = `
UPDATE slot_availability
SET state = 'closed', closed_at = @closed_at, last_seen_at = @closed_at, run_id = @run_id, updated_at = @closed_at
WHERE bucket_id = @bucket_id AND slot_id = @slot_id AND state = 'open'`

	sqlSlotDeleteBucketPrefixBefore = `
DELETE FROM slot_availability WHERE bucket_id < (@window_start || '_')`
)

// SlotStore implements slotstore.Store against PostgreSQL.
type SlotStore struct{}

// NewSlotStore constructs a SlotStore.
func NewSlotStore() *SlotStore { return &SlotStore{} }

var _ slotstore.Store = (*SlotStore)(nil)

func (s *SlotStore) BulkUpsert(ctx context.Context, q db.Querier, rows []slotstore.Row) error {
	for start := 0; start < len(rows); start += pollBatchSize {
		end := start + pollBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		for _, r := range rows[start:end] {
			_, err := q.Exec(ctx, sqlSlotUpsert, pgx.NamedArgs{
				"bucket_id":    r.BucketID,
				"slot_id":      r.SlotID,
				"state":        string(r.State),
				"opened_at":    r.OpenedAt,
				"last_seen_at": r.LastSeenAt,
				"run_id":       r.RunID,
				"updated_at":   r.UpdatedAt,
				"venue_id":     r.VenueID,
				"venue_name":   r.VenueName,
				"payload_json": r.PayloadJSON,
				"time_bucket":  r.TimeBucket,
				"slot_date":    r.SlotDate,
				"slot_time":    r.SlotTime,
				"provider":     r.Provider,
				"neighborhood": r.Neighborhood,
				"price_range":  r.PriceRange,
			})
			if err != nil {
				return fmt.Errorf("upsert slot %s/%s: %w", r.BucketID, r.SlotID, err)
			}
		}
	}
	return nil
}

func (s *SlotStore) OpenVenueIDs(ctx context.Context, q db.Querier, bucketID string) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, sqlSlotOpenVenueIDs, pgx.NamedArgs{"bucket_id": bucketID})
	if err != nil {
		return nil, fmt.Errorf("select open venue ids for %s: %w", bucketID, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var venueID string
		if err := rows.Scan(&venueID); err != nil {
			return nil, fmt.Errorf("scan venue id: %w", err)
		}
		out[venueID] = struct{}{}
	}
	return out, rows.Err()
}

func (s *SlotStore) CloseMissing(ctx context.Context, q db.Querier, bucketID string, currSet map[string]struct{}, closedAt time.Time, runID string) ([]string, error) {
	rows, err := q.Query(ctx, sqlSlotSelectOpen, pgx.NamedArgs{"bucket_id": bucketID})
	if err != nil {
		return nil, fmt.Errorf("select open slots for %s: %w", bucketID, err)
	}
	var openSlotIDs []string
	for rows.Next() {
		var slotID string
		if err := rows.Scan(&slotID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan open slot id: %w", err)
		}
		openSlotIDs = append(openSlotIDs, slotID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var closed []string
	for _, slotID := range openSlotIDs {
		if _, stillOpen := currSet[slotID]; stillOpen {
			continue
		}
		_, err := q.Exec(ctx, sqlSlotClose, pgx.NamedArgs{
			"bucket_id": bucketID,
			"slot_id":   slotID,
			"closed_at": closedAt,
			"run_id":    runID,
		})
		if err != nil {
			return nil, fmt.Errorf("close slot %s/%s: %w", bucketID, slotID, err)
		}
		closed = append(closed, slotID)
	}
	return closed, nil
}

func (s *SlotStore) DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	tag, err := q.Exec(ctx, sqlSlotDeleteBucketPrefixBefore, pgx.NamedArgs{"window_start": windowStart})
	if err != nil {
		return 0, fmt.Errorf("delete slot_availability before %s: %w", windowStart, err)
	}
	return tag.RowsAffected(), nil
}
