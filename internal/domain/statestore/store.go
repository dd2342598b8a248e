// Package statestore defines the persistence contract for AvailabilityState rows (spec §3).
package statestore

import (
	"context"
	"time"

	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// Row is one (bucket_id, slot_id) availability-state row tracking open/close duration.
type Row struct {
	BucketID        string
	SlotID          string
	VenueID         string
	SlotDate        string
	OpenedAt        time.Time
	ClosedAt        *time.Time
	DurationSeconds *int64
	AggregatedAt    *time.Time
}

// Store is the persistence contract for AvailabilityState rows.
type Store interface {
	// UpsertOpen inserts a new open row for (bucketID, slotID), or, on conflict,
	// clears closed_at/duration_seconds/aggregated_at and refreshes opened_at
	// (re-open semantics, spec §4.C step 9). A row that was aggregated and
	// deleted is re-created fresh; a closed row still waiting for aggregation
	// is reset to open in place.
	UpsertOpen(ctx context.Context, q db.Querier, rows []Row) error

	// CloseForSlots sets closed_at and duration_seconds for the given open rows
	// and returns the updated rows, staged for aggregation (spec §4.C step 10).
	CloseForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string, closedAt time.Time) ([]Row, error)

	// SelectUnaggregatedClosed returns closed rows with aggregated_at IS NULL,
	// up to limit, making aggregation idempotent across retries and concurrent
	// workers (spec §4.C step 12).
	SelectUnaggregatedClosed(ctx context.Context, q db.Querier, limit int) ([]Row, error)

	// MarkAggregated stamps aggregated_at for the given rows.
	MarkAggregated(ctx context.Context, q db.Querier, bucketIDs, slotIDs []string, aggregatedAt time.Time) error

	// DeleteAggregatedClosed deletes rows that are both closed and aggregated.
	DeleteAggregatedClosed(ctx context.Context, q db.Querier) (int64, error)

	// DeleteOutsideWindow deletes rows whose bucket_id's date portion falls
	// outside the active window (spec §4.E).
	DeleteOutsideWindow(ctx context.Context, q db.Querier, windowStart string) (int64, error)
}
