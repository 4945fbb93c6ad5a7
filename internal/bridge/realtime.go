package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Token fetches a short-lived realtime client secret.
func (c *Client) Token(ctx context.Context, path string) (string, error) {
	var out struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return "", fmt.Errorf("fetch realtime token: %w", err)
	}
	secret := strings.TrimSpace(out.ClientSecret.Value)
	if secret == "" {
		return "", fmt.Errorf("fetch realtime token: %w", errors.New("client_secret.value is empty"))
	}
	return secret, nil
}

// ExchangeSDP posts a local offer and returns the remote answer SDP.
func (c *Client) ExchangeSDP(ctx context.Context, path, offer, secret, model string) (string, error) {
	body := map[string]string{"sdp": offer, "client_secret": secret, "model": model}
	resp, err := c.sendJSON(ctx, path, body)
	if err != nil {
		return "", fmt.Errorf("exchange sdp: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("exchange sdp: %w: %v", ErrTransient, err)
	}
	if err := classifyStatus(path, resp.StatusCode, raw); err != nil {
		return "", fmt.Errorf("exchange sdp: %w", err)
	}
	answer := string(raw)
	if !strings.HasPrefix(strings.TrimSpace(answer), "v=") {
		return "", fmt.Errorf("exchange sdp: %w: answer is not SDP", ErrPermanent)
	}
	return answer, nil
}

func (c *Client) sendJSON(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := jsonBody(in)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, path, body)
}
