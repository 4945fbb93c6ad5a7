package audio

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// Speaker plays decoded remote-assistant audio through the default Pulse sink.
//
// Frames are queued by Write and drained by the Pulse playback callback; an
// empty queue plays silence so the stream never underruns into EndOfData.
type Speaker struct {
	client *pulse.Client
	stream *pulse.PlaybackStream

	mu      sync.Mutex
	queue   []int16
	limit   int
	closed  bool
	dropped int
}

// maxQueuedSamples bounds buffered speech to ten seconds.
const maxQueuedSamples = SampleRate * 10

// OpenSpeaker starts a 48kHz mono playback stream.
func OpenSpeaker() (*Speaker, error) {
	client, err := newClient()
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	speaker := &Speaker{client: client, limit: maxQueuedSamples}
	stream, err := client.NewPlayback(
		pulse.Int16Reader(speaker.fill),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName("posvoice assistant"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	speaker.stream = stream
	stream.Start()
	return speaker, nil
}

// Write queues one decoded frame for playback.
func (s *Speaker) Write(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, pcm...)
	if over := len(s.queue) - s.limit; over > 0 {
		s.queue = s.queue[over:]
		s.dropped += over
	}
}

// Flush discards queued audio, used when a new remote stream replaces the old one.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.queue = s.queue[:0]
	s.mu.Unlock()
}

// Dropped reports how many samples were discarded because the queue was full.
func (s *Speaker) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops playback and releases the Pulse client.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func (s *Speaker) fill(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, pulse.EndOfData
	}
	n := copy(buf, s.queue)
	s.queue = s.queue[n:]
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

// Play writes pcm to a short-lived stream and blocks until Pulse has drained it.
// It serves callers that have no Speaker open.
func Play(pcm []int16) error {
	if len(pcm) == 0 {
		return nil
	}
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	rest := pcm
	stream, err := client.NewPlayback(
		pulse.Int16Reader(func(buf []int16) (int, error) {
			n := copy(buf, rest)
			rest = rest[n:]
			if len(rest) == 0 {
				return n, pulse.EndOfData
			}
			return n, nil
		}),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("posvoice cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("drain playback stream: %w", err)
	}
	return nil
}
