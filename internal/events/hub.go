// Package events fans pipeline and control activity out to live listeners.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	Received            Kind = "received"
	Replied             Kind = "replied"
	Skipped             Kind = "skipped"
	TranscriptionFailed Kind = "transcription_failed"
	ChatFailed          Kind = "chat_failed"
	Undelivered         Kind = "undelivered"
	Paused              Kind = "paused"
	Resumed             Kind = "resumed"
	Enabled             Kind = "enabled"
	Disabled            Kind = "disabled"
	ConfigUpdated       Kind = "config_updated"
	Connected           Kind = "connected"
	Disconnected        Kind = "disconnected"
)

type Event struct {
	ID     string    `json:"id,omitempty"`
	Time   time.Time `json:"time"`
	Kind   Kind      `json:"kind"`
	ChatID string    `json:"chatId,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Publisher accepts events. *Hub implements it; nil-safe callers use Discard.
type Publisher interface {
	Publish(Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

const (
	DefaultBacklog = 50
	subBuffer      = 32
)

// Hub keeps a short backlog and forwards new events to subscribers.
// Slow subscribers miss events instead of blocking publishers.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	backlog []Event
	size    int
	now     func() time.Time
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Hub{
		subs: make(map[chan Event]struct{}),
		size: backlog,
		now:  time.Now,
	}
}

func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.backlog = append(h.backlog, e)
	if len(h.backlog) > h.size {
		h.backlog = append([]Event(nil), h.backlog[len(h.backlog)-h.size:]...)
	}

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns the backlog, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.backlog...)
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, subBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}
