package retention

import (
	"context"
	"testing"
	"time"

	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
)

func TestGetBucketHealthFlagsNeverScanned(t *testing.T) {
	health := GetBucketHealth(bucketstore.Bucket{BucketID: "b1"}, time.Now(), staleBucketThreshold)
	if !health.Stale {
		t.Fatalf("expected a never-scanned bucket to be stale")
	}
}

func TestGetBucketHealthFlagsOldScan(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)
	health := GetBucketHealth(bucketstore.Bucket{BucketID: "b1", ScannedAt: &old}, now, staleBucketThreshold)
	if !health.Stale {
		t.Fatalf("expected an hour-old scan past a 30m threshold to be stale")
	}
}

func TestGetBucketHealthFreshScanNotStale(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Minute)
	health := GetBucketHealth(bucketstore.Bucket{BucketID: "b1", ScannedAt: &recent}, now, staleBucketThreshold)
	if health.Stale {
		t.Fatalf("expected a minute-old scan to not be stale")
	}
}

func TestGetLastScanInfoBucketsSkipsMissingRows(t *testing.T) {
	mgr, _, _, _, _, _, _, _ := newTestManager()
	health, err := mgr.GetLastScanInfoBuckets(context.Background(), time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetLastScanInfoBuckets: %v", err)
	}
	if len(health) != 0 {
		t.Fatalf("expected no health rows when every bucket is missing, got %d", len(health))
	}
}
