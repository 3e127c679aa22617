package nakadi

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// StreamParameters are the optional server-side knobs of a streaming GET.
// Zero means "not set".
type StreamParameters struct {
	BatchLimit           int
	StreamLimit          int
	BatchFlushTimeout    int // seconds
	StreamTimeout        int // seconds
	StreamKeepAliveLimit int
	// MaxUncommittedEvents only applies to subscriptions.
	MaxUncommittedEvents int
}

// Validate enforces the combinations the server rejects or silently
// mishandles. Zero values are never sent: an explicit batch_limit of 0 makes
// the server stream nothing.
func (p StreamParameters) Validate() error {
	if p.BatchLimit < 0 || p.StreamLimit < 0 || p.BatchFlushTimeout < 0 ||
		p.StreamTimeout < 0 || p.StreamKeepAliveLimit < 0 || p.MaxUncommittedEvents < 0 {
		return errors.New("stream parameters must not be negative")
	}
	if p.BatchLimit > 0 && p.StreamLimit > 0 && p.StreamLimit < p.BatchLimit {
		return errors.New("stream_limit is lower than batch_limit")
	}
	if p.BatchFlushTimeout > 0 && p.StreamTimeout > 0 && p.StreamTimeout < p.BatchFlushTimeout {
		return errors.New("stream_timeout is lower than batch_flush_timeout")
	}
	return nil
}

// Query renders the parameters in a stable order.
func (p StreamParameters) Query(subscription bool) string {
	var parts []string
	add := func(k string, v int) {
		if v > 0 {
			parts = append(parts, k+"="+strconv.Itoa(v))
		}
	}
	add("batch_limit", p.BatchLimit)
	add("stream_limit", p.StreamLimit)
	add("batch_flush_timeout", p.BatchFlushTimeout)
	add("stream_timeout", p.StreamTimeout)
	add("stream_keep_alive_limit", p.StreamKeepAliveLimit)
	if subscription {
		add("max_uncommitted_events", p.MaxUncommittedEvents)
	}
	return strings.Join(parts, "&")
}

// ResumeMode selects how the reader resumes after (re)connecting.
type ResumeMode int

const (
	// ResumeLowLevel streams one event type and sends the locally known
	// cursors in the X-Nakadi-Cursors header.
	ResumeLowLevel ResumeMode = iota
	// ResumeSubscription streams a subscription; the server tracks
	// positions and binds commits to the stream id.
	ResumeSubscription
)

// ResumePolicy is the consumption mode of a reader.
type ResumePolicy struct {
	Mode         ResumeMode
	EventType    string
	Subscription *Subscription

	// Lock, when set, restricts the resume cursors to these partitions.
	Lock *PartitionAssignment
	// ReapplyLock keeps applying Lock on reconnects, not only on the first
	// connection.
	ReapplyLock bool
}

// LowLevel streams eventType directly.
func LowLevel(eventType string) ResumePolicy {
	return ResumePolicy{Mode: ResumeLowLevel, EventType: eventType, ReapplyLock: true}
}

// ForSubscription streams a subscription with a single event type.
func ForSubscription(sub Subscription) ResumePolicy {
	p := ResumePolicy{Mode: ResumeSubscription, Subscription: &sub, ReapplyLock: true}
	if len(sub.EventTypes) == 1 {
		p.EventType = sub.EventTypes[0]
	}
	return p
}

// WithLock returns a copy of p restricted to the given assignment.
func (p ResumePolicy) WithLock(lock PartitionAssignment, reapply bool) ResumePolicy {
	p.Lock, p.ReapplyLock = &lock, reapply
	return p
}

func (p ResumePolicy) validate() error {
	switch p.Mode {
	case ResumeLowLevel:
		if p.EventType == "" {
			return errors.New("low-level reader needs an event type")
		}
	case ResumeSubscription:
		if p.Subscription == nil || p.Subscription.ID == "" {
			return errors.New("subscription reader needs a subscription id")
		}
		if len(p.Subscription.EventTypes) != 1 || p.Subscription.EventTypes[0] != p.EventType {
			return errors.New("only subscriptions to single event types are supported")
		}
	default:
		return errors.New("unknown resume mode")
	}
	return nil
}

// streamURI is the events endpoint for the policy below base.
func (p ResumePolicy) streamURI(base *url.URL, params StreamParameters) string {
	var path string
	if p.Mode == ResumeSubscription {
		path = "/subscriptions/" + url.PathEscape(p.Subscription.ID) + "/events"
	} else {
		path = "/event-types/" + url.PathEscape(p.EventType) + "/events"
	}
	uri := strings.TrimRight(base.String(), "/") + path
	if q := params.Query(p.Mode == ResumeSubscription); q != "" {
		uri += "?" + q
	}
	return uri
}
