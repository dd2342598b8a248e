package bucketid

import (
	"testing"
	"time"
)

func TestBucketIDFormat(t *testing.T) {
	if got := BucketID("2026-02-12", "15:00"); got != "2026-02-12_15:00" {
		t.Fatalf("unexpected bucket id: %s", got)
	}
}

func TestAllAnchorsCount(t *testing.T) {
	start := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	anchors := AllAnchors(start, 14, []string{"15:00", "20:30"})
	if len(anchors) != 28 {
		t.Fatalf("expected 28 anchors, got %d", len(anchors))
	}
	if anchors[0].BucketID != "2026-02-12_15:00" {
		t.Fatalf("unexpected first anchor: %+v", anchors[0])
	}
	last := anchors[len(anchors)-1]
	if last.DateStr != "2026-02-25" {
		t.Fatalf("expected window to span 14 days, last date was %s", last.DateStr)
	}
}

func TestAdvisoryLockKeyDeterministicAndPositive(t *testing.T) {
	a := AdvisoryLockKey("2026-02-12_15:00")
	b := AdvisoryLockKey("2026-02-12_15:00")
	if a != b {
		t.Fatalf("expected deterministic lock key, got %d vs %d", a, b)
	}
	if a < 0 {
		t.Fatalf("expected non-negative lock key, got %d", a)
	}
	c := AdvisoryLockKey("2026-02-12_20:30")
	if a == c {
		t.Fatalf("expected distinct lock keys for distinct buckets")
	}
}

func TestTimeBucket(t *testing.T) {
	if TimeBucket("20:30") != "prime" {
		t.Fatal("expected 20:30 to be prime")
	}
	if TimeBucket("15:00") != "off_peak" {
		t.Fatal("expected 15:00 to be off_peak")
	}
}

func TestDedupeKeyTruncatesToMinute(t *testing.T) {
	t1 := time.Date(2026, 2, 12, 20, 30, 5, 0, time.UTC)
	t2 := time.Date(2026, 2, 12, 20, 30, 59, 0, time.UTC)
	k1 := DedupeKey("2026-02-12_20:30", "abc", t1)
	k2 := DedupeKey("2026-02-12_20:30", "abc", t2)
	if k1 != k2 {
		t.Fatalf("expected same-minute dedupe keys to match, got %s vs %s", k1, k2)
	}
}
