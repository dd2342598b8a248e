// Package provider defines the contract availability providers (Resy, OpenTable, ...)
// implement and the normalized shape the poll worker consumes regardless of source.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NormalizedSlot is one (venue, time) availability row, identical in shape
// across every provider.
type NormalizedSlot struct {
	SlotID    string
	VenueID   string
	VenueName string
	Payload   map[string]any
}

// Adapter is the interface every availability provider implements. A nil
// error with an empty slice means the provider legitimately found zero
// results; a non-nil error means the fetch failed and the caller must treat
// the bucket's current state as unknown rather than "all closed".
type Adapter interface {
	// ProviderID identifies the provider for slot_id derivation and
	// DropEvent.provider (e.g. "resy", "opentable").
	ProviderID() string

	// SearchAvailability fetches current availability for one bucket anchor.
	SearchAvailability(ctx context.Context, dateStr, timeSlot string, partySizes []int) ([]NormalizedSlot, error)
}

// SlotID derives the stable slot key used for diffing: one id per
// provider + venue + actual time, truncated to 32 hex characters.
func SlotID(providerID, venueID, actualTime string) string {
	raw := fmt.Sprintf("%s|%s|%s", providerID, venueID, actualTime)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

// BookURL extracts the booking link from a payload (resy_url or book_url,
// normalized to a single field regardless of the source provider).
func BookURL(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload["resy_url"].(string); ok && v != "" {
		return v
	}
	if v, ok := payload["book_url"].(string); ok {
		return v
	}
	return ""
}
