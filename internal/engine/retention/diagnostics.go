package retention

import (
	"context"
	"time"

	"github.com/resy-watch/discovery-engine/errs"
	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
	"github.com/resy-watch/discovery-engine/internal/engine/bucketid"
)

// staleBucketThreshold is how long a bucket can go unscanned before
// GetLastScanInfoBuckets flags it. Generously above any configured tick
// interval so a handful of missed ticks doesn't page anyone.
const staleBucketThreshold = 30 * time.Minute

// BucketHealth is the read-only view GetBucketHealth/GetLastScanInfoBuckets
// report: observability only, no externally exposed query surface.
type BucketHealth struct {
	BucketID  string
	ScannedAt *time.Time
	Stale     bool
}

// GetBucketHealth reports whether bucket's last scan is stale relative to
// now, given staleAfter. A bucket that has never been scanned is stale.
func GetBucketHealth(bucket bucketstore.Bucket, now time.Time, staleAfter time.Duration) BucketHealth {
	stale := bucket.ScannedAt == nil || now.Sub(*bucket.ScannedAt) > staleAfter
	return BucketHealth{
		BucketID:  bucket.BucketID,
		ScannedAt: bucket.ScannedAt,
		Stale:     stale,
	}
}

// GetLastScanInfoBuckets checks every bucket in the active window and logs a
// warning for each one whose scanned_at is stale, so an operator watching
// the retention job's logs notices a bucket the scheduler stopped polling.
func (m *Manager) GetLastScanInfoBuckets(ctx context.Context, windowStart time.Time) ([]BucketHealth, error) {
	anchors := bucketid.AllAnchors(windowStart, m.cfg.WindowDays, m.cfg.TimeSlots)
	now := time.Now().UTC()

	out := make([]BucketHealth, 0, len(anchors))
	for _, a := range anchors {
		bucket, exists, err := m.buckets.Get(ctx, m.db.Pool, a.BucketID)
		if err != nil {
			return out, errs.New("retention", errs.CodeRetention, errs.WithCause(err), errs.WithField("bucket_id", a.BucketID))
		}
		if !exists {
			continue
		}
		health := GetBucketHealth(bucket, now, staleBucketThreshold)
		if health.Stale && m.logger != nil {
			m.logger.Printf("bucket %s scan is stale: scanned_at=%v threshold=%s", a.BucketID, health.ScannedAt, staleBucketThreshold)
		}
		out = append(out, health)
	}
	return out, nil
}
