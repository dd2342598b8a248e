package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/resy-watch/discovery-engine/internal/domain/venuestore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

const (
	sqlVenueUpsert = `
INSERT INTO venues (venue_id, venue_name, first_seen, last_seen)
VALUES (@venue_id, @venue_name, @seen_at, @seen_at)
ON CONFLICT (venue_id) DO UPDATE SET
  venue_name = excluded.venue_name,
  last_seen = excluded.last_seen`

	sqlVenueDeleteNotSeenSince = `
DELETE FROM venues WHERE last_seen < @cutoff`
)

// VenueStore implements venuestore.Store against PostgreSQL.
type VenueStore struct{}

// NewVenueStore constructs a VenueStore.
func NewVenueStore() *VenueStore { return &VenueStore{} }

var _ venuestore.Store = (*VenueStore)(nil)

func (s *VenueStore) Upsert(ctx context.Context, q db.Querier, venueID, venueName string, seenAt time.Time) error {
	_, err := q.Exec(ctx, sqlVenueUpsert, pgx.NamedArgs{
		"venue_id":   venueID,
		"venue_name": venueName,
		"seen_at":    seenAt,
	})
	if err != nil {
		return fmt.Errorf("upsert venue %s: %w", venueID, err)
	}
	return nil
}

func (s *VenueStore) DeleteNotSeenSince(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, sqlVenueDeleteNotSeenSince, pgx.NamedArgs{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("delete venues not seen since %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
