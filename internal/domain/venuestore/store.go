// Package venuestore defines the persistence contract for Venue rows (spec §3).
package venuestore

import (
	"context"
	"time"

	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// Venue tracks the first/last time a venue id was observed across any bucket.
type Venue struct {
	VenueID    string
	VenueName  string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Store is the persistence contract for Venue rows.
type Store interface {
	// Upsert creates the venue on first sight or refreshes last_seen_at on every drop.
	Upsert(ctx context.Context, q db.Querier, venueID, venueName string, seenAt time.Time) error

	// DeleteNotSeenSince deletes venues whose last_seen_at predates cutoff.
	DeleteNotSeenSince(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error)
}
