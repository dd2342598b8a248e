package pollworker

import (
	"testing"

	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
)

func TestGetBaselineSnapshotReportsMembership(t *testing.T) {
	bucket := bucketstore.Bucket{
		BaselineSlotIDs: []string{"a", "b"},
		PrevSlotIDs:     []string{"a"},
	}
	curr := map[string]struct{}{"a": {}, "c": {}}

	snap := GetBaselineSnapshot(bucket, curr, "a")
	if !snap.InBaseline || !snap.InPrev || !snap.InCurr {
		t.Fatalf("expected slot a present in all three sets, got %+v", snap)
	}

	snap = GetBaselineSnapshot(bucket, curr, "c")
	if snap.InBaseline || snap.InPrev || !snap.InCurr {
		t.Fatalf("expected slot c only present in curr, got %+v", snap)
	}
}

func TestGetFeedItemDebugExplainsBaselineEcho(t *testing.T) {
	bucket := bucketstore.Bucket{
		BaselineSlotIDs: []string{"echoed"},
		PrevSlotIDs:     nil,
	}
	curr := map[string]struct{}{"echoed": {}}

	debug := GetFeedItemDebug(bucket, curr, "echoed")
	if debug.Reason == "" {
		t.Fatalf("expected a non-empty reason for a baseline echo")
	}
	if !debug.InBaseline || debug.InPrev || !debug.InCurr {
		t.Fatalf("expected baseline+curr without prev, got %+v", debug)
	}
}

func TestGetFeedItemDebugUnknownSlot(t *testing.T) {
	bucket := bucketstore.Bucket{}
	debug := GetFeedItemDebug(bucket, nil, "missing")
	if debug.InBaseline || debug.InPrev || debug.InCurr {
		t.Fatalf("expected no membership for an unknown slot, got %+v", debug)
	}
	if debug.Reason != "never observed in this bucket" {
		t.Fatalf("unexpected reason: %q", debug.Reason)
	}
}
