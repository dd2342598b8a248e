// Package dropeventstore defines the persistence contract for DropEvent rows (spec §3, §4.C).
package dropeventstore

import (
	"context"
	"time"

	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// Event is one immutable drop-event record.
type Event struct {
	ID           int64
	BucketID     string
	SlotID       string
	OpenedAt     time.Time
	VenueID      string
	VenueName    string
	PayloadJSON  []byte
	DedupeKey    string
	PushSentAt   *time.Time
	SlotDate     string
	SlotTime     string
}

// Store is the persistence contract for DropEvent rows.
type Store interface {
	// RecentlyNotifiedSlotIDs returns the slot ids within bucketID that already
	// have a DropEvent with opened_at >= since (the TTL dedupe window, spec §4.C step 6).
	RecentlyNotifiedSlotIDs(ctx context.Context, q db.Querier, bucketID string, since time.Time) (map[string]struct{}, error)

	// InsertIgnoreDuplicates inserts events, silently skipping any whose
	// dedupe_key already exists (spec §4.C step 8; invariant 3 of spec §8).
	InsertIgnoreDuplicates(ctx context.Context, q db.Querier, events []Event) error

	// DeletePushedForSlots deletes DropEvent rows for (bucketID, slotID) pairs
	// that have push_sent_at set, once their projection row has closed
	// (spec §4.C step 10; ownership note in spec §3).
	DeletePushedForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string) error

	// DeleteBucketPrefixBefore deletes events whose bucket_id's date portion
	// is before windowStart (first pass of spec §4.E retention).
	DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error)

	// DeleteOlderPushed deletes events older than cutoff that have already been
	// pushed (second pass of spec §4.E retention).
	DeleteOlderPushed(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error)

	// SelectUnsentWithinWindow returns up to limit unsent events opened within
	// [now-window, now), oldest first (spec §4.F step 2).
	SelectUnsentWithinWindow(ctx context.Context, q db.Querier, window time.Duration, limit int) ([]Event, error)

	// MarkPushSent stamps push_sent_at for the given event ids (spec §4.F step 4).
	MarkPushSent(ctx context.Context, q db.Querier, ids []int64, sentAt time.Time) error
}
