package turn

import (
	"strings"
	"time"
)

// DefaultDedupWindow is how long an accepted text suppresses identical repeats.
const DefaultDedupWindow = 10 * time.Second

type recentText struct {
	text string
	at   time.Time
}

// Dedup tracks upstream utterance IDs and recently accepted texts.
// It is not safe for concurrent use; the Controller guards it.
type Dedup struct {
	window time.Duration
	seen   map[string]struct{}
	recent []recentText
}

func NewDedup(window time.Duration) *Dedup {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Dedup{window: window, seen: map[string]struct{}{}}
}

// SeenID reports whether id was already observed and records it otherwise.
// Empty IDs are never considered seen.
func (d *Dedup) SeenID(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

// Push evicts expired entries and records text at now. It returns false
// when an identical text is still inside the window.
func (d *Dedup) Push(text string, now time.Time) bool {
	cutoff := now.Add(-d.window)
	kept := d.recent[:0]
	for _, entry := range d.recent {
		if entry.at.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	d.recent = kept

	for _, entry := range d.recent {
		if entry.text == text {
			return false
		}
	}
	d.recent = append(d.recent, recentText{text: text, at: now})
	return true
}

var decorationReplacer = strings.NewReplacer("!", " ", "¡", " ", "?", " ", "¿", " ")

// Sanitize strips exclamation/question decoration and collapses whitespace.
func Sanitize(text string) string {
	return strings.Join(strings.Fields(decorationReplacer.Replace(text)), " ")
}
