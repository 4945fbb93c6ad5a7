package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rbright/posvoice/internal/fsm"
	"github.com/stretchr/testify/require"
)

type fakeMic struct {
	mu      sync.Mutex
	enabled bool
	changes []bool
}

func (m *fakeMic) SetMicEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = on
	m.changes = append(m.changes, on)
}

type fakeCues struct {
	mu     sync.Mutex
	events []fsm.Event
}

func (f *fakeCues) Cue(_ context.Context, event fsm.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeCues) count(event fsm.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	d       time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool { t.stopped = true; return true }

type harness struct {
	ctrl       *Controller
	mic        *fakeMic
	cues       *fakeCues
	utterances []Utterance
	listening  []bool
	timers     []*fakeTimer
	clock      time.Time
}

func newHarness(t *testing.T, maxTurn time.Duration) *harness {
	t.Helper()
	h := &harness{
		mic:   &fakeMic{},
		cues:  &fakeCues{},
		clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	h.ctrl = NewController(Options{
		Mic:         h.mic,
		Cues:        h.cues,
		MaxTurn:     maxTurn,
		OnUtterance: func(u Utterance) { h.utterances = append(h.utterances, u) },
		OnListening: func(on bool) { h.listening = append(h.listening, on) },
	})
	h.ctrl.now = func() time.Time { return h.clock }
	h.ctrl.afterFunc = func(d time.Duration, f func()) stopper {
		timer := &fakeTimer{d: d, fire: f}
		h.timers = append(h.timers, timer)
		return timer
	}
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func TestStartStopSideEffects(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.ctrl.Start(ctx)
	require.Equal(t, fsm.StateListening, h.ctrl.Status().State)
	require.Equal(t, uint64(1), h.ctrl.Status().Nonce)
	require.True(t, h.mic.enabled)
	require.Equal(t, 1, h.cues.count(fsm.EventStart))
	require.Empty(t, h.timers)

	h.ctrl.Start(ctx)
	require.Equal(t, uint64(1), h.ctrl.Status().Nonce)

	h.ctrl.Stop(ctx)
	require.Equal(t, fsm.StateIdle, h.ctrl.Status().State)
	require.False(t, h.mic.enabled)
	require.Equal(t, 1, h.cues.count(fsm.EventStop))
	require.Equal(t, []bool{true, false}, h.listening)
}

func TestMaxTurnTimeoutOnlyWithoutLatch(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	ctx := context.Background()

	h.ctrl.Start(ctx)
	require.Len(t, h.timers, 1)
	require.Equal(t, 5*time.Second, h.timers[0].d)

	h.timers[0].fire()
	require.Equal(t, fsm.StateIdle, h.ctrl.Status().State)
	require.False(t, h.mic.enabled)
	require.Equal(t, []fsm.Event{fsm.EventStart, fsm.EventTimeout}, h.cues.events)

	h.ctrl.SetLatch(ctx, true)
	require.Equal(t, fsm.StateListening, h.ctrl.Status().State)
	require.Len(t, h.timers, 1)
}

func TestStaleTimerDoesNotStopNextTurn(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()

	h.ctrl.Start(ctx)
	h.ctrl.Stop(ctx)
	require.True(t, h.timers[0].stopped)
	h.ctrl.Start(ctx)

	h.timers[0].fire()
	require.Equal(t, fsm.StateListening, h.ctrl.Status().State)
}

func TestLatchToggleRoundTrip(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	st := h.ctrl.ToggleLatch(ctx)
	require.True(t, st.Latched)
	require.Equal(t, fsm.StateListening, st.State)

	h.ctrl.Stop(ctx)
	require.Equal(t, fsm.StateListening, h.ctrl.Status().State)

	st = h.ctrl.ToggleLatch(ctx)
	require.False(t, st.Latched)
	require.Equal(t, fsm.StateIdle, st.State)
}

func TestFinalizeStopsPushToTalkButNotLatch(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.ctrl.Start(ctx)
	h.ctrl.Finalize("a", "buscar caño")
	require.Equal(t, fsm.StateIdle, h.ctrl.Status().State)
	require.Len(t, h.utterances, 1)

	h.ctrl.SetLatch(ctx, true)
	h.ctrl.Finalize("b", "agregar")
	h.ctrl.Finalize("c", "ítem 2")
	require.Equal(t, fsm.StateListening, h.ctrl.Status().State)
	require.Len(t, h.utterances, 3)
}

func TestFinalizeFallsBackToBuffer(t *testing.T) {
	h := newHarness(t, 0)
	h.ctrl.Start(context.Background())
	h.ctrl.AppendFragment("ítem 2 ")
	h.ctrl.AppendFragment("cantidad 3")
	h.ctrl.Finalize("x", "")

	require.Len(t, h.utterances, 1)
	require.Equal(t, "ítem 2 cantidad 3", h.utterances[0].Text)
	require.Equal(t, uint64(1), h.utterances[0].Nonce)
}

func TestFragmentsDroppedWhileIdle(t *testing.T) {
	h := newHarness(t, 0)
	h.ctrl.AppendFragment("ruido")
	h.ctrl.Finalize("x", "")
	require.Empty(t, h.utterances)
}

func TestCancelDiscardsLateTranscriptOnce(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.ctrl.Start(ctx)
	h.ctrl.AppendFragment("confirmar")
	h.ctrl.Cancel(ctx)
	require.Equal(t, fsm.StateIdle, h.ctrl.Status().State)
	require.Equal(t, []fsm.Event{fsm.EventStart, fsm.EventCancel}, h.cues.events)

	h.ctrl.Finalize("late", "confirmar")
	require.Empty(t, h.utterances)
	require.Empty(t, h.ctrl.cancelled)

	h.ctrl.Finalize("later", "confirmar")
	require.Len(t, h.utterances, 1)
}

func TestCancelReleasesLatch(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.ctrl.SetLatch(ctx, true)
	h.ctrl.Cancel(ctx)

	st := h.ctrl.Status()
	require.False(t, st.Latched)
	require.Equal(t, fsm.StateIdle, st.State)
}

func TestDuplicateTextWithinWindow(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.ctrl.SetLatch(ctx, true)

	h.ctrl.Finalize("a", "¡agregar ítem 1!")
	h.advance(400 * time.Millisecond)
	h.ctrl.Finalize("b", "agregar   ítem 1")
	h.advance(9 * time.Second)
	h.ctrl.Finalize("c", "agregar ítem 1")
	require.Len(t, h.utterances, 1)

	h.advance(time.Second)
	h.ctrl.Finalize("d", "agregar ítem 1")
	require.Len(t, h.utterances, 2)
}

func TestSeenIDAndEmptyDiscarded(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.ctrl.SetLatch(ctx, true)

	h.ctrl.Finalize("same", "uno")
	h.ctrl.Finalize("same", "dos")
	h.ctrl.Finalize("other", " ¿? ")
	require.Len(t, h.utterances, 1)
	require.Equal(t, "uno", h.utterances[0].Text)
}

func TestInjectSharesDedup(t *testing.T) {
	h := newHarness(t, 0)
	require.True(t, h.ctrl.Inject("descuento 10"))
	require.False(t, h.ctrl.Inject("descuento 10!"))
	require.Len(t, h.utterances, 1)
	require.Equal(t, fsm.StateIdle, h.ctrl.Status().State)
}
