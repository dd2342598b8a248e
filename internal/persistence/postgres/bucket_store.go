package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

const (
	sqlBucketGet = `
SELECT bucket_id, date_str, time_slot, baseline_slot_ids, prev_slot_ids, scanned_at
FROM discovery_buckets
WHERE bucket_id = @bucket_id`

	sqlBucketEnsure = `
INSERT INTO discovery_buckets (bucket_id, date_str, time_slot, baseline_slot_ids, prev_slot_ids, scanned_at)
VALUES (@bucket_id, @date_str, @time_slot, NULL, NULL, NULL)
ON CONFLICT (bucket_id) DO NOTHING`

	sqlBucketBootstrap = `
INSERT INTO discovery_buckets (bucket_id, date_str, time_slot, baseline_slot_ids, prev_slot_ids, scanned_at)
VALUES (@bucket_id, @date_str, @time_slot, @slot_ids, @slot_ids, @scanned_at)
ON CONFLICT (bucket_id) DO UPDATE SET
  baseline_slot_ids = excluded.baseline_slot_ids,
  prev_slot_ids = excluded.prev_slot_ids,
  scanned_at = excluded.scanned_at
WHERE discovery_buckets.baseline_slot_ids IS NULL`

	sqlBucketSetPrev = `
UPDATE discovery_buckets
SET prev_slot_ids = @slot_ids, scanned_at = @scanned_at
WHERE bucket_id = @bucket_id`

	sqlBucketDeleteBefore = `
DELETE FROM discovery_buckets WHERE date_str < @window_start`
)

// BucketStore implements bucketstore.Store against PostgreSQL.
type BucketStore struct{}

// NewBucketStore constructs a BucketStore.
func NewBucketStore() *BucketStore { return &BucketStore{} }

var _ bucketstore.Store = (*BucketStore)(nil)

func (s *BucketStore) Get(ctx context.Context, q db.Querier, bucketID string) (bucketstore.Bucket, bool, error) {
	row := q.QueryRow(ctx, sqlBucketGet, pgx.NamedArgs{"bucket_id": bucketID})

	var b bucketstore.Bucket
	var baselineJSON, prevJSON []byte
	var scannedAt *time.Time
	if err := row.Scan(&b.BucketID, &b.DateStr, &b.TimeSlot, &baselineJSON, &prevJSON, &scannedAt); err != nil {
		if err == pgx.ErrNoRows {
			return bucketstore.Bucket{}, false, nil
		}
		return bucketstore.Bucket{}, false, fmt.Errorf("get bucket %s: %w", bucketID, err)
	}
	if baselineJSON != nil {
		if err := json.Unmarshal(baselineJSON, &b.BaselineSlotIDs); err != nil {
			return bucketstore.Bucket{}, false, fmt.Errorf("decode baseline_slot_ids: %w", err)
		}
	}
	if prevJSON != nil {
		if err := json.Unmarshal(prevJSON, &b.PrevSlotIDs); err != nil {
			return bucketstore.Bucket{}, false, fmt.Errorf("decode prev_slot_ids: %w", err)
		}
	}
	b.ScannedAt = scannedAt
	return b, true, nil
}

func (s *BucketStore) EnsureBuckets(ctx context.Context, q db.Querier, anchors []bucketstore.Anchor) error {
	for _, a := range anchors {
		bucketID := BucketID(a.DateStr, a.TimeSlot)
		_, err := q.Exec(ctx, sqlBucketEnsure, pgx.NamedArgs{
			"bucket_id": bucketID,
			"date_str":  a.DateStr,
			"time_slot": a.TimeSlot,
		})
		if err != nil {
			return fmt.Errorf("ensure bucket %s: %w", bucketID, err)
		}
	}
	return nil
}

func (s *BucketStore) WindowBucketIDs(ctx context.Context, q db.Querier, anchors []bucketstore.Anchor) []string {
	out := make([]string, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, BucketID(a.DateStr, a.TimeSlot))
	}
	return out
}

func (s *BucketStore) Bootstrap(ctx context.Context, q db.Querier, bucketID, dateStr, timeSlot string, slotIDs []string, scannedAt time.Time) error {
	encoded, err := json.Marshal(slotIDs)
	if err != nil {
		return fmt.Errorf("encode slot ids: %w", err)
	}
	_, err = q.Exec(ctx, sqlBucketBootstrap, pgx.NamedArgs{
		"bucket_id":  bucketID,
		"date_str":   dateStr,
		"time_slot":  timeSlot,
		"slot_ids":   encoded,
		"scanned_at": scannedAt,
	})
	if err != nil {
		return fmt.Errorf("bootstrap bucket %s: %w", bucketID, err)
	}
	return nil
}

func (s *BucketStore) SetPrev(ctx context.Context, q db.Querier, bucketID string, slotIDs []string, scannedAt time.Time) error {
	encoded, err := json.Marshal(slotIDs)
	if err != nil {
		return fmt.Errorf("encode slot ids: %w", err)
	}
	_, err = q.Exec(ctx, sqlBucketSetPrev, pgx.NamedArgs{
		"bucket_id":  bucketID,
		"slot_ids":   encoded,
		"scanned_at": scannedAt,
	})
	if err != nil {
		return fmt.Errorf("set prev for bucket %s: %w", bucketID, err)
	}
	return nil
}

func (s *BucketStore) DeleteBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	tag, err := q.Exec(ctx, sqlBucketDeleteBefore, pgx.NamedArgs{"window_start": windowStart})
	if err != nil {
		return 0, fmt.Errorf("delete buckets before %s: %w", windowStart, err)
	}
	return tag.RowsAffected(), nil
}

// BucketID derives bucket_id = date_str "_" time_slot (spec §3 Bucket).
func BucketID(dateStr, timeSlot string) string {
	return strings.Join([]string{dateStr, timeSlot}, "_")
}
