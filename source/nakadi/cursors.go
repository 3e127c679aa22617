package nakadi

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// CursorManager persists consumption progress. Implementations must be safe
// for concurrent use: readers of different partitions may share one.
type CursorManager interface {
	// Cursors returns the committed cursors of an event type.
	Cursors(ctx context.Context, eventType string) ([]Cursor, error)
	// OnStreamOpened records the stream id of a fresh subscription
	// connection. Low-level managers ignore it.
	OnStreamOpened(eventType, streamID string)
	// OnSuccess commits a cursor after its batch was processed.
	OnSuccess(ctx context.Context, eventType string, cursor Cursor) error
	// OnError is advisory: processing of the batch at cursor failed. The
	// committed position does not move.
	OnError(eventType string, cursor Cursor, err error)
}

// ResumeCursors returns the cursors to present when (re)connecting.
//
// In subscription mode the server tracks positions, so the result is empty
// unless a lock is active. With a lock every assigned partition gets its
// committed offset, else the lock's override, else OffsetBegin.
func ResumeCursors(ctx context.Context, m CursorManager, policy ResumePolicy, reconnect bool) ([]Cursor, error) {
	lock := policy.Lock
	if reconnect && !policy.ReapplyLock {
		lock = nil
	}
	if policy.Mode == ResumeSubscription && lock == nil {
		return nil, nil
	}
	cursors, err := m.Cursors(ctx, policy.EventType)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return cursors, nil
	}
	offsets := make(map[string]string, len(cursors))
	for _, c := range cursors {
		offsets[c.Partition] = c.Offset
	}
	locked := make([]Cursor, 0, len(lock.Partitions))
	for _, p := range lock.Partitions {
		off, ok := offsets[p]
		if !ok {
			off, ok = lock.Offsets[p]
		}
		if !ok || off == "" {
			off = OffsetBegin
		}
		locked = append(locked, Cursor{Partition: p, Offset: off})
	}
	return locked, nil
}

// InMemoryCursorManager keeps committed cursors in process memory. It is the
// low-level default and loses its state on restart.
type InMemoryCursorManager struct {
	mu      sync.RWMutex
	cursors map[string]map[string]Cursor
	log     *slog.Logger
}

func NewInMemoryCursorManager(log *slog.Logger) *InMemoryCursorManager {
	if log == nil {
		log = discardLogger
	}
	return &InMemoryCursorManager{cursors: make(map[string]map[string]Cursor), log: log}
}

func (m *InMemoryCursorManager) Cursors(_ context.Context, eventType string) ([]Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Cursor, 0, len(m.cursors[eventType]))
	for _, c := range m.cursors[eventType] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

func (m *InMemoryCursorManager) OnStreamOpened(string, string) {}

func (m *InMemoryCursorManager) OnSuccess(_ context.Context, eventType string, c Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPartition, ok := m.cursors[eventType]
	if !ok {
		byPartition = make(map[string]Cursor)
		m.cursors[eventType] = byPartition
	}
	byPartition[c.Partition] = Cursor{Partition: c.Partition, Offset: c.Offset, EventType: c.EventType}
	return nil
}

func (m *InMemoryCursorManager) OnError(eventType string, c Cursor, err error) {
	m.log.Warn("processing failed", "event_type", eventType, "partition", c.Partition, "offset", c.Offset, "error", err)
}

// Committed returns the committed cursor of one partition.
func (m *InMemoryCursorManager) Committed(eventType, partition string) (Cursor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[eventType][partition]
	return c, ok
}

// ManagedCursorManager commits through the subscription cursors endpoint.
// Every commit carries the stream id of the connection that delivered the
// batch.
type ManagedCursorManager struct {
	client *HTTPClient
	log    *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]Subscription // by event type
	streamIDs     map[string]string       // by subscription id
}

func NewManagedCursorManager(client *HTTPClient, log *slog.Logger) *ManagedCursorManager {
	if log == nil {
		log = discardLogger
	}
	return &ManagedCursorManager{
		client:        client,
		log:           log,
		subscriptions: make(map[string]Subscription),
		streamIDs:     make(map[string]string),
	}
}

// AddSubscription registers sub for each of its event types.
func (m *ManagedCursorManager) AddSubscription(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, et := range sub.EventTypes {
		m.subscriptions[et] = sub
	}
}

func (m *ManagedCursorManager) subscription(eventType string) (Subscription, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[eventType]
	if !ok {
		return sub, "", errors.New("no subscription registered for event type " + eventType)
	}
	return sub, m.streamIDs[sub.ID], nil
}

func (m *ManagedCursorManager) Cursors(ctx context.Context, eventType string) ([]Cursor, error) {
	sub, _, err := m.subscription(eventType)
	if err != nil {
		return nil, err
	}
	return m.client.SubscriptionCursors(ctx, sub.ID)
}

func (m *ManagedCursorManager) OnStreamOpened(eventType, streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[eventType]
	if !ok {
		m.log.Warn("stream opened for unknown subscription", "event_type", eventType, "stream_id", streamID)
		return
	}
	m.streamIDs[sub.ID] = streamID
}

func (m *ManagedCursorManager) OnSuccess(ctx context.Context, eventType string, c Cursor) error {
	sub, streamID, err := m.subscription(eventType)
	if err != nil {
		return err
	}
	if streamID == "" {
		return &Error{Kind: KindStaleStreamIdentity, Op: "commit cursor", Partition: c.Partition, Err: errors.New("no stream id")}
	}
	if c.EventType == "" {
		c.EventType = eventType
	}
	return m.client.CommitCursors(ctx, sub.ID, streamID, []Cursor{c})
}

func (m *ManagedCursorManager) OnError(eventType string, c Cursor, err error) {
	m.log.Warn("processing failed", "event_type", eventType, "partition", c.Partition, "offset", c.Offset, "error", err)
}
