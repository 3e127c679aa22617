package nakadi

import "time"

// OffsetBegin asks the server to stream a partition from its oldest
// available event.
const OffsetBegin = "BEGIN"

// Cursor is a position inside one partition. Offsets are opaque and are only
// ever passed back to the server.
type Cursor struct {
	Partition   string `json:"partition"`
	Offset      string `json:"offset"`
	EventType   string `json:"event_type,omitempty"`
	CursorToken string `json:"cursor_token,omitempty"`
}

// Batch is one decoded chunk of the stream. KeepAlive is set when the chunk
// carried no "events" field at all.
type Batch[T any] struct {
	Cursor    Cursor
	Events    []T
	KeepAlive bool
	Stats     EventStats
}

// EventStats holds the oldest and newest metadata.occurred_at seen in a batch.
// Both are zero when no event carried a parseable timestamp.
type EventStats struct {
	Oldest time.Time
	Newest time.Time
}

func (s *EventStats) observe(t time.Time) {
	if s.Oldest.IsZero() || t.Before(s.Oldest) {
		s.Oldest = t
	}
	if s.Newest.IsZero() || t.After(s.Newest) {
		s.Newest = t
	}
}

// PartitionAssignment pins a reader to a fixed set of partitions. Offsets
// optionally overrides the start position of partitions that have no
// committed cursor yet.
type PartitionAssignment struct {
	Partitions []string
	Offsets    map[string]string
}

// Partition as listed by the event-type partitions endpoint.
type Partition struct {
	Partition             string `json:"partition"`
	OldestAvailableOffset string `json:"oldest_available_offset"`
	NewestAvailableOffset string `json:"newest_available_offset"`
}

// Subscription is a server-side consumer group for one event type.
type Subscription struct {
	ID                string    `json:"id"`
	OwningApplication string    `json:"owning_application"`
	EventTypes        []string  `json:"event_types"`
	ConsumerGroup     string    `json:"consumer_group"`
	ReadFrom          string    `json:"read_from,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
