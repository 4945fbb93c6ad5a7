// Package interpret turns utterances into catalog actions, remotely when a
// planner answers and through local rules otherwise.
package interpret

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/metrics"
	"github.com/rbright/posvoice/internal/pos"
)

// Source says which path produced a Result.
type Source string

const (
	SourcePlanner  Source = "planner"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

const (
	DefaultRetryDelay  = 400 * time.Millisecond
	DefaultResultsWait = 3 * time.Second
	pollInterval       = 100 * time.Millisecond
	noResultsApology   = "Perdón, no tengo resultados todavía. Buscá un producto primero."
)

// StateView is the read side of the POS state the interpreter needs.
type StateView interface {
	Snapshot() pos.Snapshot
	ResultCount() int
	// Searching reports a catalog search in flight whose results may still land.
	Searching() bool
}

// Speaker voices short operator feedback.
type Speaker interface {
	Speak(text string) error
}

// Result is the interpreted batch for one utterance.
type Result struct {
	Actions []action.Action
	Source  Source
	Rule    string
}

// Options configures an Interpreter. Planner defaults to NoPlanner.
type Options struct {
	Planner     Planner
	State       StateView
	Speaker     Speaker
	Rules       []Rule
	RetryDelay  time.Duration
	ResultsWait time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

type Interpreter struct {
	planner     Planner
	state       StateView
	speaker     Speaker
	rules       []Rule
	retryDelay  time.Duration
	resultsWait time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(opts Options) *Interpreter {
	in := &Interpreter{
		planner:     opts.Planner,
		state:       opts.State,
		speaker:     opts.Speaker,
		rules:       opts.Rules,
		retryDelay:  opts.RetryDelay,
		resultsWait: opts.ResultsWait,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	if in.planner == nil {
		in.planner = NoPlanner()
	}
	if in.rules == nil {
		in.rules = DefaultRules
	}
	if in.retryDelay < 0 {
		in.retryDelay = 0
	}
	if in.resultsWait <= 0 {
		in.resultsWait = DefaultResultsWait
	}
	return in
}

var indexAddHint = regexp.MustCompile(`\b(?:items?|numero|el)\s*\d+\b.*` + addVerb.String() + `|` + addVerb.String() + `.*\b(?:items?|numero|el)\s*\d+\b`)

// Interpret resolves text into actions. It never fails: planner errors fall
// back to the local rules, which always end in a literal search.
func (in *Interpreter) Interpret(ctx context.Context, text string) Result {
	normalized := Normalize(text)
	snapshot := in.state.Snapshot()

	// A planner asked to add "item N" against an empty list would pick nothing.
	if len(snapshot.Results) == 0 && in.retryDelay > 0 && in.state.Searching() && indexAddHint.MatchString(normalized) {
		in.debug("deferring index add until results are visible", "delay", in.retryDelay.String())
		if err := in.sleep(ctx, in.retryDelay); err == nil {
			snapshot = in.state.Snapshot()
		}
	}

	started := in.now()
	candidates, err := in.planner.Plan(ctx, Request{Text: text, State: snapshot, Catalog: action.CatalogStrings()})
	elapsed := in.now().Sub(started)
	if err == nil {
		actions := action.Dedupe(action.Whitelist(candidates))
		if len(actions) > 0 {
			in.metrics.Planner(metrics.OutcomeOK, elapsed)
			return Result{Actions: actions, Source: SourcePlanner}
		}
		in.metrics.Planner(metrics.OutcomeEmpty, elapsed)
		in.debug("planner returned no usable actions; using local rules", "text", text)
	} else {
		outcome := metrics.OutcomeError
		if errors.Is(err, ErrNoPlanner) {
			outcome = metrics.OutcomeFallback
		} else {
			in.warn("planner failed; using local rules", "error", err.Error())
		}
		in.metrics.Planner(outcome, elapsed)
	}

	return in.Fallback(ctx, text, normalized, snapshot)
}

// Fallback runs the local rule chain.
func (in *Interpreter) Fallback(ctx context.Context, raw string, normalized string, snapshot pos.Snapshot) Result {
	rule, actions, ok := Match(in.rules, Input{Text: normalized, Raw: raw, State: snapshot})
	if !ok {
		return Result{Source: SourceNone}
	}
	if rule.NeedsResults && !in.waitForResults(ctx) {
		in.say(noResultsApology)
		in.debug("rule needs results but none arrived", "rule", rule.Name)
		return Result{Source: SourceFallback, Rule: rule.Name}
	}
	in.debug("local rule matched", "rule", rule.Name, "actions", len(actions))
	return Result{Actions: actions, Source: SourceFallback, Rule: rule.Name}
}

func (in *Interpreter) waitForResults(ctx context.Context) bool {
	deadline := in.now().Add(in.resultsWait)
	for {
		if in.state.ResultCount() > 0 {
			return true
		}
		// Nothing in flight can fill the list; waiting only delays the apology.
		if !in.state.Searching() || !in.now().Before(deadline) {
			return false
		}
		if err := in.sleep(ctx, pollInterval); err != nil {
			return false
		}
	}
}

func (in *Interpreter) say(text string) {
	if in.speaker == nil {
		return
	}
	if err := in.speaker.Speak(text); err != nil {
		in.debug("speak failed", "error", err.Error())
	}
}

func (in *Interpreter) debug(msg string, args ...any) {
	if in.logger != nil {
		in.logger.Debug(msg, args...)
	}
}

func (in *Interpreter) warn(msg string, args ...any) {
	if in.logger != nil {
		in.logger.Warn(msg, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
