package provider

import "testing"

func TestSlotIDStableAndLength(t *testing.T) {
	a := SlotID("resy", "venue-1", "2026-02-18 20:30:00")
	b := SlotID("resy", "venue-1", "2026-02-18 20:30:00")
	if a != b {
		t.Fatalf("expected stable slot id, got %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char slot id, got %d (%s)", len(a), a)
	}
}

func TestSlotIDDiffersByProviderVenueOrTime(t *testing.T) {
	base := SlotID("resy", "venue-1", "2026-02-18 20:30:00")
	cases := []string{
		SlotID("opentable", "venue-1", "2026-02-18 20:30:00"),
		SlotID("resy", "venue-2", "2026-02-18 20:30:00"),
		SlotID("resy", "venue-1", "2026-02-18 20:45:00"),
	}
	for _, c := range cases {
		if c == base {
			t.Fatalf("expected distinct slot id, got collision %s", c)
		}
	}
}

func TestBookURLPrefersResyURL(t *testing.T) {
	got := BookURL(map[string]any{"resy_url": "https://resy.com/a", "book_url": "https://example.com/b"})
	if got != "https://resy.com/a" {
		t.Fatalf("expected resy_url to win, got %s", got)
	}
	got = BookURL(map[string]any{"book_url": "https://example.com/b"})
	if got != "https://example.com/b" {
		t.Fatalf("expected book_url fallback, got %s", got)
	}
	if BookURL(nil) != "" {
		t.Fatal("expected empty string for nil payload")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("resy"); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
