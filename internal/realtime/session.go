// Package realtime maintains the audio and event connection to the voice service.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"

	"github.com/rbright/posvoice/internal/audio"
	"github.com/rbright/posvoice/internal/metrics"
)

var (
	ErrChannelTimeout = errors.New("event channel did not open in time")
	ErrNotConnected   = errors.New("realtime session not connected")
	ErrChannelClosed  = errors.New("event channel closed")
)

// ConnState is the session connection state.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

const (
	defaultOpenTimeout = 10 * time.Second
	frameDuration      = 20 * time.Millisecond
	maxPacketBytes     = 1500
	// 120ms is the longest Opus frame.
	maxDecodedSamples = audio.SampleRate / 1000 * 120
)

// Config holds the protocol parameters sent on connect.
type Config struct {
	TokenPath    string
	SDPPath      string
	Model        string
	Language     string
	Prompt       string
	VADThreshold float64
	Silence      time.Duration
	OpenTimeout  time.Duration
}

// Options wires a Session. Dial, Signaler and OpenMic are required.
type Options struct {
	Config   Config
	Signaler Signaler
	Dial     Dialer
	OpenMic  func(context.Context) (Microphone, error)
	Sink     Sink
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// OnError receives mid-session failures such as a closed event channel.
	OnError func(error)
}

type connection struct {
	gen    uint64
	peer   Peer
	mic    Microphone
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// release stops the mic pump and closes everything acquired so far.
func (c *connection) release() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.mic != nil {
		c.mic.Close()
	}
	c.wg.Wait()
	if c.peer != nil {
		_ = c.peer.Close()
	}
}

// Session is the single realtime connection owner.
type Session struct {
	cfg      Config
	signaler Signaler
	dial     Dialer
	openMic  func(context.Context) (Microphone, error)
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onError  func(error)

	newEncoder func() (encoder, error)
	newDecoder func() (decoder, error)

	onMessage  atomic.Pointer[func([]byte)]
	micEnabled atomic.Bool

	mu     sync.Mutex
	state  ConnState
	gen    uint64
	conn   *connection
	remote context.CancelFunc
}

func New(opts Options) *Session {
	if opts.Config.OpenTimeout <= 0 {
		opts.Config.OpenTimeout = defaultOpenTimeout
	}
	return &Session{
		cfg:      opts.Config,
		signaler: opts.Signaler,
		dial:     opts.Dial,
		openMic:  opts.OpenMic,
		sink:     opts.Sink,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		onError:  opts.OnError,
		newEncoder: func() (encoder, error) {
			return opus.NewEncoder(audio.SampleRate, 1, opus.AppVoIP)
		},
		newDecoder: func() (decoder, error) {
			return opus.NewDecoder(audio.SampleRate, 1)
		},
		state: StateIdle,
	}
}

// HandleMessages sets the event channel consumer. Call before Connect.
func (s *Session) HandleMessages(fn func([]byte)) {
	s.onMessage.Store(&fn)
}

func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connected() bool {
	return s.State() == StateOpen
}

// SetMicEnabled gates the outbound microphone. Muted frames are sent as silence.
func (s *Session) SetMicEnabled(on bool) {
	s.micEnabled.Store(on)
}

// Connect establishes the session. It is a no-op while connecting or open.
// On failure every acquired resource is released and the session returns to idle.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.gen++
	conn := &connection{gen: s.gen}
	s.mu.Unlock()

	if err := s.connect(ctx, conn); err != nil {
		conn.release()
		s.mu.Lock()
		current := s.gen == conn.gen
		if current {
			s.state = StateIdle
		}
		s.mu.Unlock()
		if current {
			s.stopRemote()
			s.micEnabled.Store(false)
		}
		s.metrics.Connect(metrics.OutcomeError)
		s.warn("realtime connect failed", "error", err.Error())
		return err
	}

	s.mu.Lock()
	if s.gen != conn.gen {
		// Closed while connecting.
		s.mu.Unlock()
		conn.release()
		s.metrics.Connect(metrics.OutcomeCancelled)
		return ErrNotConnected
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()
	s.metrics.Connect(metrics.OutcomeOK)
	s.info("realtime session open", "model", s.cfg.Model, "language", s.cfg.Language)
	return nil
}

func (s *Session) connect(ctx context.Context, conn *connection) error {
	secret, err := s.signaler.Token(ctx, s.cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("obtain realtime token: %w", err)
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	peer, out, err := s.dial(PeerEvents{
		OnOpen:        func() { openOnce.Do(func() { close(opened) }) },
		OnMessage:     s.dispatchMessage,
		OnClose:       func() { s.channelClosed(conn.gen) },
		OnRemoteAudio: func(track RemoteTrack) { s.attachRemote(conn.gen, track) },
	})
	if err != nil {
		return fmt.Errorf("open peer: %w", err)
	}
	conn.peer = peer

	mic, err := s.openMic(ctx)
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}
	conn.mic = mic
	enc, err := s.newEncoder()
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}
	s.micEnabled.Store(false)
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn.cancel = cancel
	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		s.pumpMic(pumpCtx, mic, out, enc)
	}()

	offer, err := peer.Offer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	answer, err := s.signaler.ExchangeSDP(ctx, s.cfg.SDPPath, offer, secret, s.cfg.Model)
	if err != nil {
		return fmt.Errorf("sdp handshake: %w", err)
	}
	if err := peer.Answer(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}

	timer := time.NewTimer(s.cfg.OpenTimeout)
	defer timer.Stop()
	select {
	case <-opened:
	case <-timer.C:
		return ErrChannelTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	update, err := newSessionUpdate(s.cfg)
	if err != nil {
		return fmt.Errorf("encode session.update: %w", err)
	}
	if err := peer.Send(update); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}
	return nil
}

// Speak asks the service to voice instructions. It is a no-op when not connected.
func (s *Session) Speak(text string) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return nil
	}

	payload, err := newResponseCreate(text)
	if err != nil {
		return fmt.Errorf("encode response.create: %w", err)
	}
	if err := conn.peer.Send(payload); err != nil {
		return fmt.Errorf("send response.create: %w", err)
	}
	return nil
}

// Send writes a raw client event. It fails with ErrNotConnected when closed.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}
	return conn.peer.Send(payload)
}

// Close tears the session down. A later Connect starts from scratch.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateIdle
	s.gen++
	s.mu.Unlock()

	s.stopRemote()
	s.micEnabled.Store(false)
	if conn != nil {
		conn.release()
	}
	return nil
}

func (s *Session) dispatchMessage(data []byte) {
	fn := s.onMessage.Load()
	if fn == nil || *fn == nil {
		return
	}
	(*fn)(data)
}

func (s *Session) channelClosed(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.mu.Unlock()

	s.warn("realtime event channel closed")
	s.stopRemote()
	s.micEnabled.Store(false)
	if conn != nil {
		// Peer callbacks must not block on the peer's own teardown.
		go conn.release()
	}
	if s.onError != nil {
		s.onError(ErrChannelClosed)
	}
}

func (s *Session) attachRemote(gen uint64, track RemoteTrack) {
	dec, err := s.newDecoder()
	if err != nil {
		s.warn("create opus decoder failed", "error", err.Error())
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.remote != nil {
		s.remote()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.remote = cancel
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Flush()
	}
	s.debug("remote audio attached", "track", track.ID())
	go s.pumpRemote(ctx, track, dec)
}

func (s *Session) stopRemote() {
	s.mu.Lock()
	cancel := s.remote
	s.remote = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.sink != nil {
		s.sink.Flush()
	}
}

func (s *Session) pumpRemote(ctx context.Context, track RemoteTrack, dec decoder) {
	pcm := make([]int16, maxDecodedSamples)
	for {
		payload, err := track.ReadPacket()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if len(payload) == 0 || s.sink == nil {
			continue
		}
		n, err := dec.Decode(payload, pcm)
		if err != nil {
			s.debug("opus decode failed", "error", err.Error())
			continue
		}
		frame := make([]int16, n)
		copy(frame, pcm[:n])
		s.sink.Write(frame)
	}
}

func (s *Session) pumpMic(ctx context.Context, mic Microphone, out Outbound, enc encoder) {
	pcm := make([]int16, audio.FrameSamples)
	silence := make([]int16, audio.FrameSamples)
	packet := make([]byte, maxPacketBytes)

	for {
		n, err := mic.ReadFrame(ctx, pcm)
		if err != nil {
			return
		}
		clear(pcm[n:])

		frame := pcm
		if !s.micEnabled.Load() {
			frame = silence
		}
		size, err := enc.Encode(frame, packet)
		if err != nil {
			s.debug("opus encode failed", "error", err.Error())
			continue
		}
		if err := out.WriteSample(packet[:size], frameDuration); err != nil {
			s.debug("write mic sample failed", "error", err.Error())
		}
	}
}

func (s *Session) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Session) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Session) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
