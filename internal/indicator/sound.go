package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rbright/posvoice/internal/audio"
	"github.com/rbright/posvoice/internal/config"
	"github.com/rbright/posvoice/internal/fsm"
)

// Fault is cued when the realtime session fails. It never drives the turn FSM.
const Fault fsm.Event = "fault"

// note is one segment of a cue in milliseconds; hz == 0 is a rest.
type note struct {
	hz float64
	ms int
}

type cue struct {
	notes []note
	// file returns the configured replacement sound, if any.
	file func(config.IndicatorConfig) string
}

const (
	cueGain = 0.18
	// edge is the fade length at both ends of a note, 5ms at the shared rate.
	edge = audio.SampleRate / 200
)

var gap = note{ms: 22}

var cueTable = map[fsm.Event]cue{
	fsm.EventStart: {
		notes: []note{{hz: 880, ms: 70}, gap, {hz: 1175, ms: 70}},
		file:  func(c config.IndicatorConfig) string { return c.SoundStartFile },
	},
	fsm.EventStop: {
		notes: []note{{hz: 620, ms: 120}},
		file:  func(c config.IndicatorConfig) string { return c.SoundStopFile },
	},
	fsm.EventFinalized: {
		notes: []note{{hz: 620, ms: 120}},
		file:  func(c config.IndicatorConfig) string { return c.SoundStopFile },
	},
	// A turn cut by the duration limit sounds like a stop with a drop at the end.
	fsm.EventTimeout: {
		notes: []note{{hz: 620, ms: 80}, gap, {hz: 520, ms: 120}},
		file:  func(c config.IndicatorConfig) string { return c.SoundStopFile },
	},
	fsm.EventCancel: {
		notes: []note{{hz: 480, ms: 75}, gap, {hz: 360, ms: 90}},
		file:  func(c config.IndicatorConfig) string { return c.SoundCancelFile },
	},
	Fault: {
		notes: []note{{hz: 330, ms: 90}, gap, {hz: 330, ms: 90}, gap, {hz: 247, ms: 140}},
	},
}

// render turns notes into 16-bit mono PCM at audio.SampleRate.
func render(notes []note) []int16 {
	total := 0
	for _, n := range notes {
		total += samplesIn(n.ms)
	}
	pcm := make([]int16, 0, total)
	for _, n := range notes {
		count := samplesIn(n.ms)
		if n.hz <= 0 {
			pcm = append(pcm, make([]int16, count)...)
			continue
		}
		fade := min(edge, count/4)
		step := 2 * math.Pi * n.hz / audio.SampleRate
		for i := range count {
			amp := cueGain
			if fade > 0 {
				amp *= min(1, float64(i)/float64(fade), float64(count-1-i)/float64(fade))
			}
			pcm = append(pcm, int16(amp*math.Sin(step*float64(i))*math.MaxInt16))
		}
	}
	return pcm
}

func samplesIn(ms int) int {
	if ms <= 0 {
		return 0
	}
	return ms * audio.SampleRate / 1000
}

// soundFile resolves the configured file for event, expanding a leading ~.
func soundFile(event fsm.Event, cfg config.IndicatorConfig) string {
	spec, ok := cueTable[event]
	if !ok || spec.file == nil {
		return ""
	}
	path := strings.TrimSpace(spec.file(cfg))
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func playFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cue file: %w", err)
	}
	out, err := exec.CommandContext(ctx, "pw-play", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pw-play %s: %w (%s)", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
