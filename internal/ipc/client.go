package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrNotRunning reports that no daemon is listening on the socket.
var ErrNotRunning = errors.New("posvoice daemon is not running")

// Send performs one request/response exchange, bounded by timeout or by the
// deadline on ctx, whichever comes first.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Forward sends one command to the running daemon, tagging it with a trace id.
func Forward(ctx context.Context, path string, command string, text string, timeout time.Duration) (Response, error) {
	req := Request{Command: command, Text: text, TraceID: uuid.NewString()}
	resp, err := Send(ctx, path, req, timeout)
	if err != nil {
		if noListener(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return Response{}, err
	}
	if resp.TraceID != "" && resp.TraceID != req.TraceID {
		return Response{}, fmt.Errorf("response trace id %s does not match request %s", resp.TraceID, req.TraceID)
	}
	return resp, nil
}

// OwnerStatus asks the owner of path for its status. It returns nil without error
// when nothing is listening, and an error when the owner does not answer in time.
func OwnerStatus(ctx context.Context, path string, timeout time.Duration) (*Response, error) {
	resp, err := Send(ctx, path, Request{Command: "status", TraceID: uuid.NewString()}, timeout)
	if err == nil {
		return &resp, nil
	}
	if noListener(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("status request: %w", err)
}

// noListener reports a socket path that is absent or that nobody accepts on.
func noListener(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
