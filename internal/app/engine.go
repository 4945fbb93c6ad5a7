package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/posvoice/internal/config"
	"github.com/rbright/posvoice/internal/dispatch"
	"github.com/rbright/posvoice/internal/feed"
	"github.com/rbright/posvoice/internal/indicator"
	"github.com/rbright/posvoice/internal/interpret"
	"github.com/rbright/posvoice/internal/ipc"
	"github.com/rbright/posvoice/internal/metrics"
	"github.com/rbright/posvoice/internal/pos"
	"github.com/rbright/posvoice/internal/transcript"
	"github.com/rbright/posvoice/internal/turn"
)

const engineQueueSize = 16

// Voice is the realtime session surface the engine drives.
type Voice interface {
	Connect(ctx context.Context) error
	Connected() bool
	SetMicEnabled(on bool)
	Speak(text string) error
	HandleMessages(fn func([]byte))
	Close() error
}

// EngineOptions wires an Engine. Voice and Catalog are required.
type EngineOptions struct {
	Config  config.Config
	Logger  *slog.Logger
	Voice   Voice
	Catalog dispatch.Catalog
	Planner interpret.Planner
	Cues    indicator.Controller
	Metrics *metrics.Metrics
	Feed    *feed.Hub
}

// Engine owns the single POS session: turn control, transcript routing,
// interpretation and guarded dispatch. Utterances are processed one at a
// time on the goroutine running Run.
type Engine struct {
	logger  *slog.Logger
	voice   Voice
	metrics *metrics.Metrics
	feed    *feed.Hub
	cues    indicator.Controller

	state      *pos.State
	turns      *turn.Controller
	router     *transcript.Router
	coalescer  *interpret.Coalescer
	interp     *interpret.Interpreter
	dispatcher *dispatch.Dispatcher

	queue chan string
	// processed observes each finished utterance; tests use it to synchronize.
	processed func(Processed)
}

// Processed is the outcome of one utterance.
type Processed struct {
	Text   string
	Result interpret.Result
	Report dispatch.Report
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Voice == nil {
		return nil, errors.New("engine: voice session is required")
	}
	cfg := opts.Config

	e := &Engine{
		logger:  opts.Logger,
		voice:   opts.Voice,
		metrics: opts.Metrics,
		feed:    opts.Feed,
		cues:    opts.Cues,
		state:   pos.NewState(),
		queue:   make(chan string, engineQueueSize),
	}

	e.interp = interpret.New(interpret.Options{
		Planner:     opts.Planner,
		State:       e.state,
		Speaker:     feedSpeaker{voice: opts.Voice, feed: opts.Feed},
		RetryDelay:  millis(cfg.Planner.RetryDelayMS),
		ResultsWait: millis(cfg.Dispatch.ResultsWaitMS),
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})

	dispatcher, err := dispatch.New(dispatch.Options{
		State:         e.state,
		Catalog:       opts.Catalog,
		Interpreter:   e.interp,
		Speaker:       opts.Voice,
		Feed:          opts.Feed,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger,
		AddDebounce:   millis(cfg.Dispatch.AddDebounceMS),
		MaxResults:    cfg.Dispatch.MaxResults,
		RefreshPrices: cfg.Dispatch.RefreshPrices,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.dispatcher = dispatcher

	e.coalescer = interpret.NewCoalescer(millis(cfg.Turn.CoalesceMS), e.enqueue)
	e.turns = turn.NewController(turn.Options{
		Logger:      opts.Logger,
		Mic:         opts.Voice,
		Cues:        opts.Cues,
		Metrics:     opts.Metrics,
		MaxTurn:     millis(cfg.Turn.MaxTurnMS),
		DedupWindow: millis(cfg.Turn.DedupWindowMS),
		OnUtterance: e.onUtterance,
		OnListening: e.onListening,
	})
	e.router = transcript.NewRouter(e.turns, e.onRealtimeError, opts.Logger)
	opts.Voice.HandleMessages(e.router.Handle)
	return e, nil
}

// Run drains accepted utterances until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-e.queue:
			e.process(ctx, text)
		}
	}
}

func (e *Engine) process(ctx context.Context, text string) {
	started := time.Now()
	result := e.interp.Interpret(ctx, text)
	report := e.dispatcher.Dispatch(ctx, text, result.Actions)

	if e.logger != nil {
		e.logger.Info("utterance processed",
			"text", text,
			"source", string(result.Source),
			"rule", result.Rule,
			"actions", len(result.Actions),
			"executed", len(report.Executed),
			"dropped", len(report.Dropped),
			"rejected", len(report.Rejected),
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
	}
	totals := e.state.Totals()
	e.feed.Emit("info", feed.KindState, "state", map[string]any{
		"mode":     string(e.state.Mode()),
		"customer": e.state.Customer(),
		"lines":    totals.Lines,
		"total":    totals.Total,
		"results":  e.state.ResultCount(),
		"selected": e.state.Selected(),
		"qty":      e.state.Qty(),
	})
	if e.processed != nil {
		e.processed(Processed{Text: text, Result: result, Report: report})
	}
}

func (e *Engine) onUtterance(u turn.Utterance) {
	e.feed.Emit("info", feed.KindUtterance, u.Text, map[string]any{"item_id": u.ItemID, "nonce": u.Nonce})
	e.coalescer.Push(u.Text)
}

func (e *Engine) onListening(on bool) {
	e.metrics.SetListening(on)
}

func (e *Engine) enqueue(text string) {
	select {
	case e.queue <- text:
	default:
		if e.logger != nil {
			e.logger.Warn("engine queue full; utterance dropped", "text", text)
		}
		e.feed.Emit("warn", feed.KindDropped, "utterance dropped: engine busy", map[string]any{"text": text})
	}
}

func (e *Engine) onRealtimeError(msg string) {
	if e.logger != nil {
		e.logger.Warn("realtime error event", "message", msg)
	}
	e.feed.Emit("warn", feed.KindSession, msg, nil)
}

// OnVoiceError handles mid-session failures reported by the realtime session.
// An open turn is cancelled since no transcript can arrive for it.
func (e *Engine) OnVoiceError(err error) {
	if e.logger != nil {
		e.logger.Error("realtime session failed", "error", err.Error())
	}
	e.feed.Emit("error", feed.KindSession, err.Error(), nil)
	if e.cues != nil {
		e.cues.Cue(context.Background(), indicator.Fault)
	}
	if e.turns.Status().Latched || e.turns.Listening() {
		e.turns.Cancel(context.Background())
	}
}

// Handle serves one IPC command.
func (e *Engine) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var message string
	switch req.Command {
	case "press":
		if err := e.ensureConnected(ctx); err != nil {
			return e.failure(err)
		}
		e.turns.Start(ctx)
	case "release":
		e.turns.Stop(ctx)
	case "latch":
		if !e.turns.Status().Latched {
			if err := e.ensureConnected(ctx); err != nil {
				return e.failure(err)
			}
		}
		e.turns.ToggleLatch(ctx)
	case "cancel":
		e.turns.Cancel(ctx)
	case "status":
	case "type":
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return e.failure(errors.New("type requires text"))
		}
		if e.turns.Inject(text) {
			message = "accepted"
		} else {
			message = "ignored (duplicate)"
		}
	case "say":
		if err := e.voice.Speak(req.Text); err != nil {
			return e.failure(err)
		}
	default:
		return e.failure(fmt.Errorf("unknown command %q", req.Command))
	}

	resp := e.status()
	resp.OK = true
	resp.Message = message
	return resp
}

func (e *Engine) ensureConnected(ctx context.Context) error {
	if e.voice.Connected() {
		return nil
	}
	if err := e.voice.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime session: %w", err)
	}
	return nil
}

func (e *Engine) status() ipc.Response {
	st := e.turns.Status()
	totals := e.state.Totals()
	return ipc.Response{
		State:     string(st.State),
		Latched:   st.Latched,
		Connected: e.voice.Connected(),
		Mode:      string(e.state.Mode()),
		Lines:     totals.Lines,
		Total:     totals.Total,
	}
}

func (e *Engine) failure(err error) ipc.Response {
	resp := e.status()
	resp.OK = false
	resp.Error = err.Error()
	return resp
}

// feedSpeaker mirrors spoken feedback onto the operator feed.
type feedSpeaker struct {
	voice Voice
	feed  *feed.Hub
}

func (s feedSpeaker) Speak(text string) error {
	s.feed.Emit("info", feed.KindSpeak, text, nil)
	return s.voice.Speak(text)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
