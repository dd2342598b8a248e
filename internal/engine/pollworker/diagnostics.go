package pollworker

import (
	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
)

// BaselineSnapshot is a debug view of where one slot stood relative to a
// bucket's stored sets, useful when investigating a baseline-echo invariant
// alert (spec §7.4) or an unexpected missing drop.
type BaselineSnapshot struct {
	SlotID     string
	InBaseline bool
	InPrev     bool
	InCurr     bool
	Reason     string
}

// GetBaselineSnapshot reports whether slotID was present in bucket's stored
// baseline/prev sets and (if known) the just-fetched curr set. Plain
// function, not an HTTP endpoint: callers are debug tooling and the
// invariant check in Poll, not an external API.
func GetBaselineSnapshot(bucket bucketstore.Bucket, currSet map[string]struct{}, slotID string) BaselineSnapshot {
	snap := BaselineSnapshot{SlotID: slotID}
	for _, id := range bucket.BaselineSlotIDs {
		if id == slotID {
			snap.InBaseline = true
			break
		}
	}
	for _, id := range bucket.PrevSlotIDs {
		if id == slotID {
			snap.InPrev = true
			break
		}
	}
	if currSet != nil {
		_, snap.InCurr = currSet[slotID]
	}
	return snap
}

// GetFeedItemDebug wraps GetBaselineSnapshot with a human-readable reason
// string explaining the slot's transition, for logging alongside an
// invariant-violation alert.
func GetFeedItemDebug(bucket bucketstore.Bucket, currSet map[string]struct{}, slotID string) BaselineSnapshot {
	snap := GetBaselineSnapshot(bucket, currSet, slotID)
	snap.Reason = feedItemDebugReason(snap)
	return snap
}

func feedItemDebugReason(snap BaselineSnapshot) string {
	switch {
	case snap.InBaseline && snap.InCurr && snap.InPrev:
		return "present at bootstrap and still open: steady state"
	case !snap.InBaseline && !snap.InPrev && snap.InCurr:
		return "not seen in baseline or previous poll: genuine drop candidate"
	case snap.InBaseline && !snap.InPrev && snap.InCurr:
		return "in baseline, absent from the previous poll, back this poll: baseline echo"
	case snap.InBaseline && snap.InPrev && !snap.InCurr:
		return "closed this poll"
	case snap.InBaseline && !snap.InCurr && !snap.InPrev:
		return "closed since baseline, still absent"
	case !snap.InBaseline && !snap.InPrev && !snap.InCurr:
		return "never observed in this bucket"
	default:
		return "no notable transition"
	}
}
