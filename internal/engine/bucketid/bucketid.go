// Package bucketid derives the stable keys the poll worker and scheduler use
// to identify buckets and lease them for exclusive polling.
package bucketid

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BucketID is the stable key for a (date, time_slot) discovery anchor,
// e.g. "2026-02-12_15:00".
func BucketID(dateStr, timeSlot string) string {
	return fmt.Sprintf("%s_%s", dateStr, timeSlot)
}

// Anchor names one (date_str, time_slot) bucket and its derived bucket id.
type Anchor struct {
	BucketID string
	DateStr  string
	TimeSlot string
}

// AllAnchors returns one Anchor per (day, time slot) pair in the active window.
func AllAnchors(windowStart time.Time, windowDays int, timeSlots []string) []Anchor {
	out := make([]Anchor, 0, windowDays*len(timeSlots))
	for offset := 0; offset < windowDays; offset++ {
		day := windowStart.AddDate(0, 0, offset)
		dateStr := day.Format("2006-01-02")
		for _, ts := range timeSlots {
			out = append(out, Anchor{
				BucketID: BucketID(dateStr, ts),
				DateStr:  dateStr,
				TimeSlot: ts,
			})
		}
	}
	return out
}

// AdvisoryLockKey derives the deterministic bigint passed to
// pg_try_advisory_xact_lock so exactly one worker polls a bucket at a time.
func AdvisoryLockKey(bucketID string) int64 {
	sum := sha256.Sum256([]byte(bucketID))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % (1 << 63))
}

// TimeBucket classifies a time_slot into the scheduling tier used by market
// metrics (spec §3 SlotAvailability.time_bucket): "20:30" is the prime dinner
// slot, everything else is off_peak.
func TimeBucket(timeSlot string) string {
	if timeSlot == "20:30" {
		return "prime"
	}
	return "off_peak"
}

// DedupeKey is the per-notification idempotency key: same bucket+slot within
// the same minute never produces two DropEvent rows (invariant 3 of spec §8).
func DedupeKey(bucketID, slotID string, openedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%s", bucketID, slotID, openedAt.UTC().Format("2006-01-02T15:04"))
}
