// Package dispatch executes interpreted actions against the POS state after
// explicit-intent guards have filtered them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/bridge"
	"github.com/rbright/posvoice/internal/feed"
	"github.com/rbright/posvoice/internal/interpret"
	"github.com/rbright/posvoice/internal/metrics"
	"github.com/rbright/posvoice/internal/pos"
	"github.com/rbright/posvoice/internal/search"
)

const (
	DefaultAddDebounce = 700 * time.Millisecond
	searchFetchLimit   = 60
	maxReroutes        = 1
)

// Catalog is the bridge surface the dispatcher calls.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]search.Row, error)
	ItemDetail(ctx context.Context, code string, qty int, mode pos.Mode) (bridge.ItemDetail, error)
	PaymentMethods(ctx context.Context) ([]string, error)
	Confirm(ctx context.Context, req bridge.ConfirmRequest) (bridge.ConfirmResult, error)
}

// Reinterpreter resolves text that arrived through the search slot but reads
// as a command.
type Reinterpreter interface {
	Interpret(ctx context.Context, text string) interpret.Result
}

// Speaker voices operator feedback.
type Speaker interface {
	Speak(text string) error
}

// Options configures a Dispatcher. State and Catalog are required.
type Options struct {
	State         *pos.State
	Catalog       Catalog
	Interpreter   Reinterpreter
	Speaker       Speaker
	Feed          feed.Publisher
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	AddDebounce   time.Duration
	MaxResults    int
	RefreshPrices bool
}

// Rejected is an action that passed the guards but failed validation.
type Rejected struct {
	Action action.Action
	Reason string
}

// ConfirmOutcome describes a confirm_document attempt.
type ConfirmOutcome struct {
	OK              bool
	Number          string
	PaymentRequired bool
	Methods         []string
	Error           string
}

// Report is everything one dispatch did.
type Report struct {
	Executed []action.Action
	Dropped  []Dropped
	Rejected []Rejected
	Confirm  *ConfirmOutcome
	Rerouted bool
}

func (r *Report) merge(other Report) {
	r.Executed = append(r.Executed, other.Executed...)
	r.Dropped = append(r.Dropped, other.Dropped...)
	r.Rejected = append(r.Rejected, other.Rejected...)
	if other.Confirm != nil {
		r.Confirm = other.Confirm
	}
}

type lastAdd struct {
	code string
	qty  int
	at   time.Time
}

// Dispatcher runs guarded action batches. Dispatch is meant to be called
// from the single engine goroutine.
type Dispatcher struct {
	state       *pos.State
	catalog     Catalog
	interpreter Reinterpreter
	speaker     Speaker
	feed        feed.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger

	addDebounce   time.Duration
	maxResults    int
	refreshPrices bool

	now func() time.Time
	// async runs non-blocking work such as payment-method reloads.
	async func(func())

	mu   sync.Mutex
	last lastAdd
}

func New(opts Options) (*Dispatcher, error) {
	if opts.State == nil {
		return nil, errors.New("dispatch: state is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("dispatch: catalog is required")
	}
	d := &Dispatcher{
		state:         opts.State,
		catalog:       opts.Catalog,
		interpreter:   opts.Interpreter,
		speaker:       opts.Speaker,
		feed:          opts.Feed,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		addDebounce:   opts.AddDebounce,
		maxResults:    opts.MaxResults,
		refreshPrices: opts.RefreshPrices,
		now:           time.Now,
		async:         func(f func()) { go f() },
	}
	if d.addDebounce < 0 {
		d.addDebounce = 0
	}
	if d.maxResults <= 0 {
		d.maxResults = search.DefaultLimit
	}
	return d, nil
}

// SetInterpreter wires the re-route target after construction, since the
// interpreter and dispatcher share the same state.
func (d *Dispatcher) SetInterpreter(in Reinterpreter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interpreter = in
}

// Dispatch filters actions against the utterance's explicit intent and
// executes the survivors: everything but add_to_cart in order, then at most one
// add. It never returns an error; failures are logged and reported.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, actions []action.Action) Report {
	return d.dispatch(ctx, ReadIntent(interpret.Normalize(text)), actions, 0)
}

type call struct {
	ctx    context.Context
	intent Intent
	depth  int
	report *Report
}

func (d *Dispatcher) dispatch(ctx context.Context, intent Intent, actions []action.Action, depth int) Report {
	var report Report

	known := make([]action.Action, 0, len(actions))
	for _, a := range actions {
		if !action.Known(a.Name) {
			d.drop(&report, Dropped{Action: a, Reason: "not in catalog"})
			continue
		}
		known = append(known, a)
	}

	kept, dropped := Filter(intent, known)
	asked := false
	for _, dr := range dropped {
		d.drop(&report, dr)
		if dr.Ask != "" && !asked {
			d.say(dr.Ask)
			asked = true
		}
	}

	ordered, add := Batch(kept)
	c := &call{ctx: ctx, intent: intent, depth: depth, report: &report}
	for _, a := range ordered {
		d.run(c, a)
	}
	if add != nil {
		d.run(c, *add)
	}
	return report
}

func (d *Dispatcher) run(c *call, a action.Action) {
	err := d.handle(c, a)
	switch {
	case err == nil:
		c.report.Executed = append(c.report.Executed, a)
		d.metrics.Action(string(a.Name), metrics.OutcomeDispatched)
		d.info("action executed", "action", a.String())
		d.publish("info", feed.KindAction, a.String(), nil)
	case errors.Is(err, errDuplicate):
		d.drop(c.report, Dropped{Action: a, Reason: err.Error()})
	default:
		c.report.Rejected = append(c.report.Rejected, Rejected{Action: a, Reason: err.Error()})
		d.metrics.Action(string(a.Name), metrics.OutcomeRejected)
		level := "warn"
		if errors.Is(err, pos.ErrNothingToDo) {
			level = "info"
		}
		d.log(level, "action rejected", "action", a.String(), "reason", err.Error())
		d.publish(level, feed.KindRejected, fmt.Sprintf("%s: %s", a.Name, err.Error()), map[string]any{"action": string(a.Name)})
	}
}

func (d *Dispatcher) drop(report *Report, dr Dropped) {
	report.Dropped = append(report.Dropped, dr)
	d.metrics.Action(string(dr.Action.Name), metrics.OutcomeDropped)
	d.info("action dropped", "action", dr.Action.String(), "reason", dr.Reason)
	d.publish("warn", feed.KindDropped, fmt.Sprintf("%s: %s", dr.Action.Name, dr.Reason), map[string]any{"action": string(dr.Action.Name)})
}

func (d *Dispatcher) say(text string) {
	if d.speaker == nil || text == "" {
		return
	}
	d.publish("info", feed.KindSpeak, text, nil)
	if err := d.speaker.Speak(text); err != nil {
		d.log("debug", "speak failed", "error", err.Error())
	}
}

func (d *Dispatcher) publish(level string, kind string, msg string, fields map[string]any) {
	if d.feed == nil {
		return
	}
	d.feed.Publish(feed.Event{Level: level, Kind: kind, Message: msg, Fields: fields})
}

func (d *Dispatcher) info(msg string, args ...any) { d.log("info", msg, args...) }

func (d *Dispatcher) log(level string, msg string, args ...any) {
	if d.logger == nil {
		return
	}
	switch level {
	case "debug":
		d.logger.Debug(msg, args...)
	case "warn":
		d.logger.Warn(msg, args...)
	case "error":
		d.logger.Error(msg, args...)
	default:
		d.logger.Info(msg, args...)
	}
}
