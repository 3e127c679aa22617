package nakadi

import "time"

// MetricsCollector is notified from the read loop. Implementations must not
// block.
type MetricsCollector interface {
	MessageReceived()
	// EventsReceived reports the events of one batch; oldest and newest are
	// zero when no event carried metadata.occurred_at.
	EventsReceived(n int, oldest, newest time.Time)
	ErrorWhileConsuming()
	Reconnection()
	MessageProcessed()
}

// NoMetrics discards everything.
type NoMetrics struct{}

func (NoMetrics) MessageReceived()                         {}
func (NoMetrics) EventsReceived(int, time.Time, time.Time) {}
func (NoMetrics) ErrorWhileConsuming()                     {}
func (NoMetrics) Reconnection()                            {}
func (NoMetrics) MessageProcessed()                        {}
