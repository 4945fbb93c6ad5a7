// Package indicator sounds the turn transitions and session faults of the
// voice daemon.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/posvoice/internal/audio"
	"github.com/rbright/posvoice/internal/config"
	"github.com/rbright/posvoice/internal/fsm"
)

// Controller receives every event worth hearing.
type Controller interface {
	Cue(ctx context.Context, event fsm.Event)
}

// Sink is an already open playback stream that cues can be mixed into.
type Sink interface {
	Write(pcm []int16)
}

const cueTimeout = 4 * time.Second

// Cues plays one cue at a time, off the caller's goroutine.
type Cues struct {
	cfg    config.IndicatorConfig
	sink   Sink
	logger *slog.Logger
	emit   func(context.Context, fsm.Event) error

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewCues builds a player. With a nil sink, synthesized cues open their own
// short Pulse stream.
func NewCues(cfg config.IndicatorConfig, sink Sink, logger *slog.Logger) *Cues {
	c := &Cues{cfg: cfg, sink: sink, logger: logger}
	c.emit = c.sound
	return c
}

// Cue sounds event if it has an entry in the cue table.
func (c *Cues) Cue(ctx context.Context, event fsm.Event) {
	if !c.cfg.SoundEnable {
		return
	}
	if _, ok := cueTable[event]; !ok {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.mu.Lock()
		defer c.mu.Unlock()

		// Cues outlive the request that triggered them.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cueTimeout)
		defer cancel()
		if err := c.emit(runCtx, event); err != nil && c.logger != nil {
			c.logger.Debug("cue playback failed", "event", string(event), "error", err.Error())
		}
	}()
}

// Wait blocks until queued cues have played.
func (c *Cues) Wait() {
	c.wg.Wait()
}

func (c *Cues) sound(ctx context.Context, event fsm.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path := soundFile(event, c.cfg); path != "" {
		err := playFile(ctx, path)
		if err == nil {
			return nil
		}
		if c.logger != nil {
			c.logger.Debug("cue file failed, using tone", "path", path, "error", err.Error())
		}
	}

	pcm := render(cueTable[event].notes)
	if c.sink != nil {
		c.sink.Write(pcm)
		return nil
	}
	return audio.Play(pcm)
}
