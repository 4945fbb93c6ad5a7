// Package transcript classifies realtime channel events into turn updates.
package transcript

import "log/slog"

// Turns is the turn-controller surface the router feeds.
type Turns interface {
	// AppendFragment adds partial text to the active turn buffer.
	AppendFragment(text string)
	// Finalize resolves one utterance; text may be empty, in which case the
	// controller falls back to its accumulated buffer.
	Finalize(itemID string, text string)
}

// Router dispatches decoded events by kind. It never panics on bad input.
type Router struct {
	turns    Turns
	warn     func(string)
	logger   *slog.Logger
	handlers map[Kind]func(Event)
}

// NewRouter wires a router. warn receives realtime error events and may be nil.
func NewRouter(turns Turns, warn func(string), logger *slog.Logger) *Router {
	r := &Router{turns: turns, warn: warn, logger: logger}
	r.handlers = map[Kind]func(Event){
		KindDelta:         r.onDelta,
		KindCompleted:     r.onCompleted,
		KindSpeechStarted: r.onSpeechHint,
		KindSpeechStopped: r.onSpeechHint,
		KindError:         r.onError,
	}
	return r
}

// Handle processes one raw data channel message.
func (r *Router) Handle(raw []byte) {
	ev, err := Parse(raw)
	if err != nil {
		return
	}
	handler, ok := r.handlers[ev.Kind]
	if !ok {
		return
	}
	handler(ev)
}

func (r *Router) onDelta(ev Event) {
	if ev.Text == "" {
		return
	}
	r.turns.AppendFragment(ev.Text)
}

func (r *Router) onCompleted(ev Event) {
	r.turns.Finalize(ev.ItemID, ev.Text)
}

func (r *Router) onSpeechHint(ev Event) {
	if r.logger != nil {
		r.logger.Debug("speech hint", "kind", ev.Kind.String(), "item_id", ev.ItemID)
	}
}

func (r *Router) onError(ev Event) {
	if r.logger != nil {
		r.logger.Warn("realtime error event", "error", ev.Error)
	}
	if r.warn != nil {
		r.warn(ev.Error)
	}
}
