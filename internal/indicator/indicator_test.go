package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbright/posvoice/internal/config"
	"github.com/rbright/posvoice/internal/fsm"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []fsm.Event
	err    error
}

func (l *eventLog) emit(_ context.Context, event fsm.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return l.err
}

func (l *eventLog) snapshot() []fsm.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fsm.Event(nil), l.events...)
}

type pcmSink struct {
	mu     sync.Mutex
	writes [][]int16
}

func (s *pcmSink) Write(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pcm)
}

func TestCuePlaysEveryQueuedEvent(t *testing.T) {
	log := &eventLog{}
	cues := NewCues(config.IndicatorConfig{SoundEnable: true}, nil, nil)
	cues.emit = log.emit

	ctx := context.Background()
	for _, event := range []fsm.Event{fsm.EventStart, fsm.EventTimeout, fsm.EventStart, fsm.EventCancel, Fault} {
		cues.Cue(ctx, event)
	}
	cues.Wait()

	// Cues are serialized but may start in any order; every one is played.
	require.ElementsMatch(t,
		[]fsm.Event{fsm.EventStart, fsm.EventTimeout, fsm.EventStart, fsm.EventCancel, Fault},
		log.snapshot())
}

func TestCueIgnoresUnknownEventsAndDisabledSound(t *testing.T) {
	log := &eventLog{}
	cues := NewCues(config.IndicatorConfig{SoundEnable: true}, nil, nil)
	cues.emit = log.emit
	cues.Cue(context.Background(), fsm.Event("bogus"))
	cues.Wait()
	require.Empty(t, log.snapshot())

	muted := NewCues(config.IndicatorConfig{SoundEnable: false}, nil, nil)
	muted.emit = log.emit
	muted.Cue(context.Background(), fsm.EventStart)
	muted.Wait()
	require.Empty(t, log.snapshot())
}

func TestCueOutlivesCancelledCallerAndSwallowsErrors(t *testing.T) {
	log := &eventLog{err: errors.New("no pulse server")}
	cues := NewCues(config.IndicatorConfig{SoundEnable: true}, nil, nil)
	cues.emit = log.emit

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cues.Cue(ctx, fsm.EventStop)
	cues.Wait()

	require.Equal(t, []fsm.Event{fsm.EventStop}, log.snapshot())
}

func TestSoundMixesIntoOpenSink(t *testing.T) {
	sink := &pcmSink{}
	cues := NewCues(config.IndicatorConfig{SoundEnable: true}, sink, nil)

	cues.Cue(context.Background(), fsm.EventStart)
	cues.Wait()

	require.Len(t, sink.writes, 1)
	require.Equal(t, render(cueTable[fsm.EventStart].notes), sink.writes[0])
}

func TestSoundFallsBackToToneWhenFileFails(t *testing.T) {
	sink := &pcmSink{}
	cfg := config.IndicatorConfig{SoundEnable: true, SoundCancelFile: "/definitely/missing/cancel.wav"}
	cues := NewCues(cfg, sink, nil)

	require.NoError(t, cues.sound(context.Background(), fsm.EventCancel))
	require.Len(t, sink.writes, 1)
	require.NotEmpty(t, sink.writes[0])
}

func TestSoundRespectsCancelledContext(t *testing.T) {
	sink := &pcmSink{}
	cues := NewCues(config.IndicatorConfig{SoundEnable: true}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cues.sound(ctx, fsm.EventStart)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, sink.writes)
}
