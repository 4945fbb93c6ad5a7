// Package turn owns listening state, turn identity and utterance dedup.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/posvoice/internal/fsm"
	"github.com/rbright/posvoice/internal/indicator"
	"github.com/rbright/posvoice/internal/metrics"
)

// MicGate enables or mutes the outbound microphone track.
type MicGate interface {
	SetMicEnabled(bool)
}

// Utterance is one accepted, sanitized finalized transcript.
type Utterance struct {
	Text   string
	ItemID string
	Nonce  uint64
	At     time.Time
}

// Status is a point-in-time view of the controller.
type Status struct {
	State   fsm.State
	Latched bool
	Nonce   uint64
}

type stopper interface {
	Stop() bool
}

// Options configures a Controller. Zero values are valid.
type Options struct {
	Logger      *slog.Logger
	Mic         MicGate
	Cues        indicator.Controller
	Metrics     *metrics.Metrics
	MaxTurn     time.Duration
	DedupWindow time.Duration
	// OnUtterance runs outside the controller lock for each accepted utterance.
	OnUtterance func(Utterance)
	// OnListening observes listening changes. It runs under the controller
	// lock and must not call back into the Controller.
	OnListening func(bool)
}

type noopMic struct{}

func (noopMic) SetMicEnabled(bool) {}

type noopCues struct{}

func (noopCues) Cue(context.Context, fsm.Event) {}

// Controller is the push-to-talk / latch state machine.
type Controller struct {
	logger      *slog.Logger
	mic         MicGate
	cues        indicator.Controller
	metrics     *metrics.Metrics
	maxTurn     time.Duration
	onUtterance func(Utterance)
	onListening func(bool)

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	state     fsm.State
	latch     bool
	nonce     uint64
	cancelled map[uint64]struct{}
	buffer    strings.Builder
	timer     stopper
	dedup     *Dedup
}

func NewController(opts Options) *Controller {
	c := &Controller{
		logger:      opts.Logger,
		mic:         opts.Mic,
		cues:        opts.Cues,
		metrics:     opts.Metrics,
		maxTurn:     opts.MaxTurn,
		onUtterance: opts.OnUtterance,
		onListening: opts.OnListening,
		now:         time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		state:     fsm.StateIdle,
		cancelled: map[uint64]struct{}{},
		dedup:     NewDedup(opts.DedupWindow),
	}
	if c.mic == nil {
		c.mic = noopMic{}
	}
	if c.cues == nil {
		c.cues = noopCues{}
	}
	return c
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Latched: c.latch, Nonce: c.nonce}
}

func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == fsm.StateListening
}

// Start begins a turn. Starting while already listening is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked(ctx)
}

// Stop ends the turn on push-to-talk release. It is ignored while latched.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latch {
		return
	}
	c.stopLocked(ctx, fsm.EventStop)
}

// SetLatch enables or disables latch mode and returns the resulting status.
func (c *Controller) SetLatch(ctx context.Context, on bool) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latch = on
	if on {
		c.clearTimerLocked()
		c.startLocked(ctx)
	} else {
		c.stopLocked(ctx, fsm.EventStop)
	}
	return Status{State: c.state, Latched: c.latch, Nonce: c.nonce}
}

// ToggleLatch flips latch mode.
func (c *Controller) ToggleLatch(ctx context.Context) Status {
	c.mu.Lock()
	on := !c.latch
	c.mu.Unlock()
	return c.SetLatch(ctx, on)
}

// Cancel marks the current turn so its late transcript is discarded, and
// forces a stop. Latch mode is released as well.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nonce > 0 {
		c.cancelled[c.nonce] = struct{}{}
	}
	c.latch = false
	if c.state != fsm.StateListening {
		return
	}
	c.transitionLocked(fsm.EventCancel)
	c.afterStopLocked()
	c.cues.Cue(ctx, fsm.EventCancel)
}

// AppendFragment accumulates partial transcript text for the active turn.
func (c *Controller) AppendFragment(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != fsm.StateListening && !c.latch {
		return
	}
	c.buffer.WriteString(text)
}

// Finalize applies cancel and dedup policy to one finalized transcript.
// Empty text falls back to the accumulated fragment buffer.
func (c *Controller) Finalize(itemID string, text string) {
	utterance, ok := c.finalize(itemID, text)
	if !ok || c.onUtterance == nil {
		return
	}
	c.onUtterance(utterance)
}

// Inject feeds typed text through the same dedup path as voice.
func (c *Controller) Inject(text string) bool {
	utterance, ok := c.accept("", text)
	if ok && c.onUtterance != nil {
		c.onUtterance(utterance)
	}
	return ok
}

func (c *Controller) finalize(itemID string, text string) (Utterance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce := c.nonce
	if _, cancelled := c.cancelled[nonce]; cancelled {
		delete(c.cancelled, nonce)
		c.buffer.Reset()
		c.metrics.Utterance(metrics.OutcomeCancelled)
		c.debug("discarded transcript for cancelled turn", "nonce", nonce)
		return Utterance{}, false
	}

	if strings.TrimSpace(text) == "" {
		text = c.buffer.String()
	}
	c.buffer.Reset()

	utterance, ok := c.acceptLocked(itemID, text)
	if !ok {
		return Utterance{}, false
	}
	if !c.latch {
		c.stopLocked(context.Background(), fsm.EventFinalized)
	}
	return utterance, true
}

func (c *Controller) accept(itemID string, text string) (Utterance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptLocked(itemID, text)
}

func (c *Controller) acceptLocked(itemID string, text string) (Utterance, bool) {
	if c.dedup.SeenID(itemID) {
		c.metrics.Utterance(metrics.OutcomeSeenID)
		c.debug("discarded repeated utterance id", "item_id", itemID)
		return Utterance{}, false
	}
	clean := Sanitize(text)
	if clean == "" {
		c.metrics.Utterance(metrics.OutcomeEmpty)
		return Utterance{}, false
	}
	now := c.now()
	if !c.dedup.Push(clean, now) {
		c.metrics.Utterance(metrics.OutcomeDuplicate)
		c.debug("discarded duplicate utterance", "text", clean)
		return Utterance{}, false
	}
	c.metrics.Utterance(metrics.OutcomeAccepted)
	return Utterance{Text: clean, ItemID: itemID, Nonce: c.nonce, At: now}, true
}

func (c *Controller) startLocked(ctx context.Context) {
	if c.state == fsm.StateListening {
		return
	}
	if !c.transitionLocked(fsm.EventStart) {
		return
	}

	c.nonce++
	// Older nonces can no longer be attributed to any transcript.
	clear(c.cancelled)
	c.buffer.Reset()
	c.mic.SetMicEnabled(true)
	c.notifyLocked(true)
	c.cues.Cue(ctx, fsm.EventStart)

	if c.maxTurn > 0 && !c.latch {
		nonce := c.nonce
		c.timer = c.afterFunc(c.maxTurn, func() { c.expire(nonce) })
	}
}

func (c *Controller) expire(nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nonce != nonce || c.latch {
		return
	}
	if c.state == fsm.StateListening {
		c.debug("max turn duration reached", "nonce", nonce)
	}
	c.stopLocked(context.Background(), fsm.EventTimeout)
}

func (c *Controller) stopLocked(ctx context.Context, event fsm.Event) {
	if c.state != fsm.StateListening {
		return
	}
	if !c.transitionLocked(event) {
		return
	}
	c.afterStopLocked()
	c.cues.Cue(ctx, event)
}

func (c *Controller) afterStopLocked() {
	c.mic.SetMicEnabled(false)
	c.clearTimerLocked()
	c.notifyLocked(false)
	c.buffer.Reset()
}

func (c *Controller) transitionLocked(event fsm.Event) bool {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.debug("turn transition rejected", "error", err.Error())
		return false
	}
	c.state = next
	return true
}

func (c *Controller) clearTimerLocked() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
}

func (c *Controller) notifyLocked(listening bool) {
	c.metrics.SetListening(listening)
	if c.onListening != nil {
		c.onListening(listening)
	}
}

func (c *Controller) debug(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}

// String is used in status replies.
func (s Status) String() string {
	return fmt.Sprintf("%s latched=%t nonce=%d", s.State, s.Latched, s.Nonce)
}
