// Package fake provides a deterministic synthetic availability provider for
// tests and local development, standing in for a real Resy/OpenTable client.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/resy-watch/discovery-engine/internal/provider"
)

// Venue is one synthetic restaurant the fake provider can return.
type Venue struct {
	VenueID   string
	VenueName string
}

// Provider deterministically reports a configurable subset of its venue
// catalogue as available. Tests drive state transitions via SetOpen rather
// than relying on wall-clock or randomness.
type Provider struct {
	id string

	mu      sync.RWMutex
	venues  []Venue
	openSet map[string]struct{} // venue ids currently "available"
}

var _ provider.Adapter = (*Provider)(nil)

// New constructs a fake provider with the given id (e.g. "resy") and catalogue.
func New(id string, venues []Venue) *Provider {
	return &Provider{
		id:      id,
		venues:  venues,
		openSet: make(map[string]struct{}),
	}
}

// ProviderID implements provider.Adapter.
func (p *Provider) ProviderID() string { return p.id }

// SetOpen replaces the set of currently-available venue ids.
func (p *Provider) SetOpen(venueIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openSet = make(map[string]struct{}, len(venueIDs))
	for _, id := range venueIDs {
		p.openSet[id] = struct{}{}
	}
}

// SearchAvailability implements provider.Adapter. partySizes is accepted for
// interface compatibility but the fake does not filter by it.
func (p *Provider) SearchAvailability(_ context.Context, dateStr, timeSlot string, _ []int) ([]provider.NormalizedSlot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var open []string
	for id := range p.openSet {
		open = append(open, id)
	}
	sort.Strings(open)

	out := make([]provider.NormalizedSlot, 0, len(open))
	for _, venueID := range open {
		name := venueID
		for _, v := range p.venues {
			if v.VenueID == venueID {
				name = v.VenueName
				break
			}
		}
		actualTime := fmt.Sprintf("%s %s:00", dateStr, timeSlot)
		out = append(out, provider.NormalizedSlot{
			SlotID:    provider.SlotID(p.id, venueID, actualTime),
			VenueID:   venueID,
			VenueName: name,
			Payload: map[string]any{
				"availability_times": []string{actualTime},
				"name":               name,
				"resy_url":           fmt.Sprintf("https://resy.com/v/%s", venueID),
			},
		})
	}
	return out, nil
}
