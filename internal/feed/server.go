package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 20 * time.Second
	writeTimeout = 5 * time.Second
)

// Server exposes /feed, /metrics and /healthz on one listener.
type Server struct {
	hub     *Hub
	logger  *slog.Logger
	metrics http.Handler
	health  func() error

	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer builds the operator HTTP surface. metrics and health may be nil.
func NewServer(hub *Hub, metrics http.Handler, health func() error, logger *slog.Logger) *Server {
	s := &Server{
		hub:     hub,
		logger:  logger,
		metrics: metrics,
		health:  health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local operator tooling only; the listener defaults to loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	return s
}

// Handler returns the route table; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Serve runs until ctx is cancelled. An empty addr is rejected.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("feed listen address is empty")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen feed %q: %w", addr, err)
	}
	return s.serveListener(ctx, listener)
}

func (s *Server) serveListener(ctx context.Context, listener net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(listener)
	}()
	if s.logger != nil {
		s.logger.Info("operator feed listening", "addr", listener.Addr().String())
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		s.hub.Close()
		_ = s.srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve feed: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sub := s.hub.Subscribe()
	if sub == nil {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		if s.logger != nil {
			s.logger.Debug("feed upgrade failed", "error", err.Error())
		}
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The feed is write-only; the read loop only services control frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeLoop(ctx, conn, sub.C); err != nil && s.logger != nil {
		s.logger.Debug("feed client closed", "error", err.Error())
	}
	s.hub.Unsubscribe(sub)
}

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

func writeLoop(ctx context.Context, ws wsWriter, events <-chan Event) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer ws.Close()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"), time.Now().Add(writeTimeout))
				return nil
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := ws.WriteJSON(ev); err != nil {
				return err
			}
		}
	}
}
