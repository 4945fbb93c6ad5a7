// Package bridge is the HTTP client for the backend bridge that fronts catalog
// search, document confirmation, payment methods, the realtime token, and the planner.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// TraceHeader carries a per-request correlation id.
const TraceHeader = "X-Trace-Id"

// Client talks JSON to the bridge.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a bridge client with a per-request timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BaseURL returns the normalized bridge root.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := jsonBody(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func jsonBody(in any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTransient, path, err)
	}
	if err := classifyStatus(path, resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransient, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s: %v", ErrPermanent, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	traceID := uuid.NewString()
	req.Header.Set(TraceHeader, traceID)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.debug("bridge request failed", "path", path, "trace_id", traceID, "error", err.Error())
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}
	c.debug("bridge request", "path", path, "trace_id", traceID, "status", resp.StatusCode, "elapsed_ms", time.Since(started).Milliseconds())
	return resp, nil
}

func classifyStatus(path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrTransient, path, status, snippet)
	}
	return fmt.Errorf("%w: %s: HTTP %d: %s", ErrPermanent, path, status, snippet)
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}
