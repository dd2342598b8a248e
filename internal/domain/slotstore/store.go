// Package slotstore defines the persistence contract for the SlotAvailability projection (spec §3).
package slotstore

import (
	"context"
	"time"

	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// State is the projection row's lifecycle state.
type State string

const (
	// StateOpen marks a slot currently believed reservable.
	StateOpen State = "open"
	// StateClosed marks a slot no longer present in the owning bucket's curr set.
	StateClosed State = "closed"
)

// Row is one (bucket_id, slot_id) projection row.
type Row struct {
	BucketID    string
	SlotID      string
	State       State
	OpenedAt    time.Time
	ClosedAt    *time.Time
	LastSeenAt  time.Time
	RunID       string
	UpdatedAt   time.Time
	VenueID     string
	VenueName   string
	PayloadJSON []byte
	TimeBucket  string
	SlotDate    string
	SlotTime    string
	Provider    string
	Neighborhood string
	PriceRange  string
}

// Store is the persistence contract for SlotAvailability rows.
type Store interface {
	// BulkUpsert writes rows with last-writer-wins semantics: a conflicting
	// (bucket_id, slot_id) is overwritten only if the incoming updated_at is
	// newer than the stored one (spec §3 projection invariants, §4.C step 7).
	BulkUpsert(ctx context.Context, q db.Querier, rows []Row) error

	// OpenVenueIDs returns the set of venue ids with an open row in bucketID,
	// used to compute drops_venue_zero (spec §4.C step 5).
	OpenVenueIDs(ctx context.Context, q db.Querier, bucketID string) (map[string]struct{}, error)

	// CloseMissing transitions open rows in bucketID whose slot id is not in
	// currSet to closed, stamping closedAt/runID/updatedAt, and returns the
	// slot ids that were closed (spec §4.C step 10).
	CloseMissing(ctx context.Context, q db.Querier, bucketID string, currSet map[string]struct{}, closedAt time.Time, runID string) ([]string, error)

	// DeleteBucketPrefixBefore deletes projection rows whose bucket_id's date
	// portion is before windowStart (spec §4.E).
	DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error)
}
