// Package feed broadcasts operator-visible events to websocket subscribers.
package feed

import (
	"log/slog"
	"sync"
	"time"
)

// Event kinds published by posvoice components.
const (
	KindUtterance = "utterance"
	KindAction    = "action"
	KindDropped   = "dropped"
	KindRejected  = "rejected"
	KindConfirm   = "confirm"
	KindSession   = "session"
	KindState     = "state"
	KindSpeak     = "speak"
)

const defaultQueueSize = 64

// Event is one JSON line on the operator feed.
type Event struct {
	TS      time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Publisher is the narrow interface components depend on.
type Publisher interface {
	Publish(Event)
}

// Hub fans events out to subscribers. Subscribers that cannot keep up
// with their bounded queue are disconnected.
type Hub struct {
	logger    *slog.Logger
	queueSize int
	now       func() time.Time

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber receives events on C until it is removed from the hub.
type Subscriber struct {
	C    <-chan Event
	ch   chan Event
	once sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		queueSize: defaultQueueSize,
		now:       time.Now,
		subs:      map[*Subscriber]struct{}{},
	}
}

// Subscribe registers a new subscriber. It returns nil after Close.
func (h *Hub) Subscribe() *Subscriber {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan Event, h.queueSize)
	sub := &Subscriber{C: ch, ch: ch}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h == nil || sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}

// Publish never blocks. A nil hub drops the event.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = h.now()
	}
	if ev.Level == "" {
		ev.Level = "info"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.removeLocked(sub)
			if h.logger != nil {
				h.logger.Warn("feed subscriber too slow; disconnected", "queue", h.queueSize)
			}
		}
	}
}

// Emit is a convenience wrapper around Publish.
func (h *Hub) Emit(level string, kind string, message string, fields map[string]any) {
	h.Publish(Event{Level: level, Kind: kind, Message: message, Fields: fields})
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects further ones.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}
