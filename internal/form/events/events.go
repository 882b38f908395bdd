// Package events provides structured event logging for form sessions.
// Events capture selection changes, debounce firings, fetch lifecycle
// (including stale drops), eligibility changes, and submission outcomes;
// they feed the session WebSocket stream and the audit trail.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType classifies the kind of session event.
type EventType string

const (
	// Session lifecycle events
	EventSessionCreated EventType = "session.created"
	EventSessionReset   EventType = "session.reset"
	EventSessionClosed  EventType = "session.closed"

	// Selection events
	EventCategorySelected EventType = "selection.category"
	EventProviderSelected EventType = "selection.provider"
	EventPackageSelected  EventType = "selection.package"
	EventPackagesLoaded   EventType = "selection.packages_loaded"
	EventPackagesErrored  EventType = "selection.packages_errored"

	// Input events
	EventIdentifierInput EventType = "input.identifier"
	EventAmountInput     EventType = "input.amount"
	EventDebounceFired   EventType = "input.debounce_fired"

	// Async resource events
	EventFetchStarted EventType = "fetch.started"
	EventFetchSettled EventType = "fetch.settled"
	EventFetchStale   EventType = "fetch.stale_dropped"

	// Gate events
	EventEligibilityChanged EventType = "eligibility.changed"

	// Submission events
	EventSubmitAttempted  EventType = "submit.attempted"
	EventSubmitAccepted   EventType = "submit.accepted"
	EventSubmitFailed     EventType = "submit.failed"
	EventSubmitPermissive EventType = "submit.permissive"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a structured session event.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	SessionID string `json:"session_id,omitempty"`
	Resource  string `json:"resource,omitempty"` // validation|fee|packages
	Field     string `json:"field,omitempty"`    // identifier|amount

	Key      string            `json:"key,omitempty"`
	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// Log is the interface for session event logging.
type Log interface {
	// Record stores an event and notifies subscribers.
	Record(event Event)

	// Subscribe registers a handler for all events and returns an
	// unsubscribe function.
	Subscribe(handler Handler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter Filter, handler Handler) func()

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentBySession returns recent events for one session.
	RecentBySession(sessionID string, n int) []Event
}

// RingBuffer is a thread-safe circular event buffer.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Log = (*RingBuffer)(nil)

// NewRingBuffer creates an event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Record adds an event to the buffer and notifies handlers outside the
// lock.
func (rb *RingBuffer) Record(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = event.Timestamp.Format("20060102150405.000000000")
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter and returns an
// unsubscribe function.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}
	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentBySession returns recent events for one session.
func (rb *RingBuffer) RecentBySession(sessionID string, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].SessionID == sessionID {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// NopLog discards all events.
type NopLog struct{}

var _ Log = NopLog{}

func (NopLog) Record(Event)                              {}
func (NopLog) Subscribe(Handler) func()                  { return func() {} }
func (NopLog) SubscribeFiltered(Filter, Handler) func()  { return func() {} }
func (NopLog) Recent(int) []Event                        { return nil }
func (NopLog) RecentBySession(string, int) []Event       { return nil }
