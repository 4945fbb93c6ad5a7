package interpret

import (
	"strings"
	"sync"
	"time"
)

type stopper interface {
	Stop() bool
}

// Coalescer joins utterances that arrive within a trailing quiet window and
// emits them as one text. A zero window emits immediately.
type Coalescer struct {
	window time.Duration
	emit   func(string)

	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	pending []string
	timer   stopper
	gen     uint64
}

func NewCoalescer(window time.Duration, emit func(string)) *Coalescer {
	return &Coalescer{
		window: window,
		emit:   emit,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Push adds text and restarts the quiet window. Repeats of the last pending
// text are ignored.
func (c *Coalescer) Push(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.window <= 0 {
		c.emit(text)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.pending); n > 0 && c.pending[n-1] == text {
		return
	}
	c.pending = append(c.pending, text)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.afterFunc(c.window, func() { c.fire(gen) })
}

// Flush emits anything pending right away.
func (c *Coalescer) Flush() {
	c.fire(0)
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	joined := strings.Join(c.pending, " ")
	c.pending = nil
	c.mu.Unlock()

	if joined != "" {
		c.emit(joined)
	}
}
