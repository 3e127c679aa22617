package nakadi

import (
	"context"
	"errors"
	"sync"
)

// errNotPending is returned by a commit closure whose cursor is no longer
// tracked, either because it was already committed or discarded.
var errNotPending = errors.New("cursor is not pending")

type pendingKey struct {
	eventType string
	partition string
}

type pending struct {
	cursor Cursor
	seq    uint64
}

// Tracker remembers the cursors that were delivered to the listener and not
// yet committed. A cursor can only reach the CursorManager through the
// closure Track hands out for it.
type Tracker struct {
	mgr CursorManager

	mu      sync.Mutex
	seq     uint64
	pending map[pendingKey]pending
}

func NewTracker(mgr CursorManager) *Tracker {
	return &Tracker{mgr: mgr, pending: make(map[pendingKey]pending)}
}

// Track marks c as delivered. The returned function commits it; calling it
// after a newer cursor of the same partition was tracked, or after Discard,
// fails without touching the manager.
func (t *Tracker) Track(eventType string, c Cursor) func(context.Context) error {
	key := pendingKey{eventType, c.Partition}
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.pending[key] = pending{cursor: c, seq: seq}
	t.mu.Unlock()

	return func(ctx context.Context) error {
		t.mu.Lock()
		p, ok := t.pending[key]
		if !ok || p.seq != seq {
			t.mu.Unlock()
			return errNotPending
		}
		delete(t.pending, key)
		t.mu.Unlock()
		return t.mgr.OnSuccess(ctx, eventType, p.cursor)
	}
}

// Discard drops the pending cursor of a partition.
func (t *Tracker) Discard(eventType, partition string) {
	t.mu.Lock()
	delete(t.pending, pendingKey{eventType, partition})
	t.mu.Unlock()
}

// Pending is the number of delivered, uncommitted cursors.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
