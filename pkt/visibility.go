package pkt

import (
	"context"
	"sync"
	"time"
)

// missingTableCapacity is spec.md's bounded LRU size for the
// missing-node table.
const missingTableCapacity = 10

type missingEntry struct {
	node uint32
	seq  uint64
}

// VisibilityTracker holds the missing-node LRU and answers
// recently_missing / note_visible / likely_to_answer queries.
type VisibilityTracker struct {
	mu      sync.Mutex
	entries []missingEntry
	seq     uint64
}

// NewVisibilityTracker returns an empty tracker.
func NewVisibilityTracker() *VisibilityTracker {
	return &VisibilityTracker{}
}

// RecentlyMissing reports whether node is currently in the
// missing-node table — a linear scan, spec.md's O(10).
func (v *VisibilityTracker) RecentlyMissing(node uint32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.entries {
		if e.node == node {
			return true
		}
	}
	return false
}

// NoteVisible records a visibility observation for node. When
// isVisible is true and node is already tracked, its sequence number
// is bumped to the new maximum (satisfying testable property 3: the
// most recently seen-visible node carries the table's highest
// sequence). When isVisible is false, node is removed from the
// table if present; otherwise NoteVisible is a no-op (a node that was
// never missing has nothing to retract).
func (v *VisibilityTracker) NoteVisible(node uint32, isVisible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	for i, e := range v.entries {
		if e.node == node {
			idx = i
			break
		}
	}

	if !isVisible {
		if idx >= 0 {
			v.entries = append(v.entries[:idx], v.entries[idx+1:]...)
		}
		return
	}

	v.seq++
	if idx >= 0 {
		v.entries[idx].seq = v.seq
		return
	}
	if len(v.entries) >= missingTableCapacity {
		v.evictOldest()
	}
	v.entries = append(v.entries, missingEntry{node: node, seq: v.seq})
}

// evictOldest removes the entry with the smallest sequence number.
// Caller must hold v.mu.
func (v *VisibilityTracker) evictOldest() {
	oldest := 0
	for i, e := range v.entries {
		if e.seq < v.entries[oldest].seq {
			oldest = i
		}
	}
	v.entries = append(v.entries[:oldest], v.entries[oldest+1:]...)
}

// pingProbeRetries and pingProbeTimeout are the "up to 3 retries,
// short timeout" parameters spec.md §4.2 gives likely_to_answer's
// ping probe.
const pingProbeRetries = 3

var pingProbeTimeout = 100 * time.Millisecond

// LikelyToAnswer is spec.md's likely_to_answer: for a direct route it
// actively pings the node (up to pingProbeRetries attempts) and
// records the outcome in the missing-node table; for an indirect
// (gateway) route it trusts the existing missing-node table instead
// of generating traffic.
func (v *VisibilityTracker) LikelyToAnswer(ctx context.Context, k *Kernel, node uint32) bool {
	next, st := k.Router.FindNextHop(0, node)
	if !st.OK() || next.Class != RouteDirect {
		return !v.RecentlyMissing(node)
	}

	answered := pingNode(ctx, k, node, pingProbeRetries, pingProbeTimeout)
	v.NoteVisible(node, answered)
	return answered
}
