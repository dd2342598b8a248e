// Package bucketstore defines the persistence contract for discovery buckets (spec §3, §4.B).
package bucketstore

import (
	"context"
	"time"

	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// Bucket is one (date, anchor-time) scheduling unit.
//
// BaselineSlotIDs is nil iff the bucket has never been polled successfully;
// on first successful poll baseline == prev == curr (spec §3 Bucket invariants).
type Bucket struct {
	BucketID        string
	DateStr         string
	TimeSlot        string
	BaselineSlotIDs []string
	PrevSlotIDs     []string
	ScannedAt       *time.Time
}

// Anchor names one (date, time_slot) pair to ensure a bucket row for.
type Anchor struct {
	DateStr  string
	TimeSlot string
}

// Store is the persistence contract for Bucket rows.
type Store interface {
	// Get loads one bucket row. ok is false when no row exists.
	Get(ctx context.Context, q db.Querier, bucketID string) (Bucket, bool, error)

	// EnsureBuckets idempotently inserts a bare row (no baseline) for every anchor
	// missing a bucket, matching discovery_bucket_job's ensure_buckets behaviour.
	EnsureBuckets(ctx context.Context, q db.Querier, anchors []Anchor) error

	// WindowBucketIDs enumerates every bucket id in the active window, regardless
	// of whether a row has been created yet for it.
	WindowBucketIDs(ctx context.Context, q db.Querier, anchors []Anchor) []string

	// Bootstrap inserts or resets a bucket so that baseline = prev = curr = slotIDs.
	// Used for both "row missing" and "baseline_slot_ids = null" bootstrap cases
	// (spec §4.C step 4).
	Bootstrap(ctx context.Context, q db.Querier, bucketID, dateStr, timeSlot string, slotIDs []string, scannedAt time.Time) error

	// SetPrev persists a normal (non-bootstrap) poll's new prev set.
	SetPrev(ctx context.Context, q db.Querier, bucketID string, slotIDs []string, scannedAt time.Time) error

	// DeleteBefore deletes bucket rows with date_str < windowStart (ISO date), returning the count removed.
	DeleteBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error)
}
