package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// requestTimeout bounds how long a client may take to send its request line.
const requestTimeout = 5 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers one request per connection until ctx is cancelled or the
// listener closes; cancelling ctx also closes open connections. Every
// response carries the request's trace id, and requests without one are
// assigned a fresh id.
func Serve(ctx context.Context, listener net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			serveConn(ctx, conn, handler, logger)
		}()
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) {
	// Shutdown must not wait on a client that never finishes its request.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))

	req, err := readRequest(conn)
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	log := logger.With("trace_id", req.TraceID)
	if err != nil {
		log.Warn("ipc request rejected", "error", err.Error())
		reply(conn, Response{Error: err.Error()}, req.TraceID, log)
		return
	}

	started := time.Now()
	resp := handler.Handle(ctx, req)
	log.Debug("ipc request",
		"command", req.Command,
		"ok", resp.OK,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	reply(conn, resp, req.TraceID, log)
}

func readRequest(conn net.Conn) (Request, error) {
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Request{}, fmt.Errorf("read request: %w", err)
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Command == "" {
		return req, errors.New("missing command")
	}
	return req, nil
}

func reply(conn net.Conn, resp Response, traceID string, log *slog.Logger) {
	resp.TraceID = traceID
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("ipc reply failed", "error", err.Error())
	}
}
