package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/pos"
	"github.com/rbright/posvoice/internal/search"
)

const (
	searchPath         = "/bridge/search_with_stock"
	itemDetailPath     = "/bridge/item-detail"
	paymentMethodsPath = "/bridge/payment_methods"
	confirmPath        = "/bridge/confirm"
	healthPath         = "/bridge/health"
)

// Search runs the backend catalog search.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]search.Row, error) {
	var out struct {
		Items []search.Row `json:"items"`
	}
	if err := c.postJSON(ctx, searchPath, map[string]any{"query": query, "limit": limit}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ItemDetail is the refreshed price and unit for one item.
type ItemDetail struct {
	Code string  `json:"item_code"`
	Rate float64 `json:"rate"`
	UOM  string  `json:"uom"`
}

// ItemDetail refreshes price information for code at qty in the given mode.
func (c *Client) ItemDetail(ctx context.Context, code string, qty int, mode pos.Mode) (ItemDetail, error) {
	var out ItemDetail
	err := c.postJSON(ctx, itemDetailPath, map[string]any{"item_code": code, "qty": qty, "mode": string(mode)}, &out)
	return out, err
}

// PaymentMethods lists the backend's mode-of-payment names.
func (c *Client) PaymentMethods(ctx context.Context) ([]string, error) {
	var out struct {
		Message []struct {
			Name string `json:"name"`
		} `json:"message"`
	}
	if err := c.getJSON(ctx, paymentMethodsPath, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Message))
	for _, m := range out.Message {
		if name := strings.TrimSpace(m.Name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Health checks bridge liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, healthPath, nil)
}

// ConfirmItem is one line sent for confirmation.
type ConfirmItem struct {
	Code string  `json:"item_code"`
	Qty  int     `json:"qty"`
	Rate float64 `json:"rate"`
	UOM  string  `json:"uom"`
}

// ConfirmPayment is one payment entry.
type ConfirmPayment struct {
	Method string  `json:"mode_of_payment"`
	Amount float64 `json:"amount"`
}

// ConfirmRequest is the document confirmation payload.
type ConfirmRequest struct {
	Mode        pos.Mode         `json:"mode"`
	Customer    string           `json:"customer"`
	Items       []ConfirmItem    `json:"items"`
	DiscountPct float64          `json:"discount_pct"`
	Payments    []ConfirmPayment `json:"payments,omitempty"`
}

// ConfirmResult is a successful confirmation.
type ConfirmResult struct {
	Number string
}

// ErrPaymentRequired matches a ConfirmError whose code is PAYMENT_REQUIRED.
var ErrPaymentRequired = errors.New("payment required")

// CodePaymentRequired is the structured confirm failure the dispatcher inspects.
const CodePaymentRequired = "PAYMENT_REQUIRED"

// ConfirmError is a structured confirmation failure.
type ConfirmError struct {
	Code           string
	Message        string
	PaymentMethods []string
}

func (e *ConfirmError) Error() string {
	if e.Message == "" {
		return "confirm failed: " + e.Code
	}
	return fmt.Sprintf("confirm failed: %s: %s", e.Code, e.Message)
}

// Is lets errors.Is match ErrPaymentRequired.
func (e *ConfirmError) Is(target error) bool {
	return target == ErrPaymentRequired && e.Code == CodePaymentRequired
}

type confirmResponse struct {
	OK     bool   `json:"ok"`
	Number string `json:"number"`
	Error  *struct {
		Code           string          `json:"code"`
		Message        string          `json:"message"`
		PaymentMethods json.RawMessage `json:"payment_methods"`
	} `json:"error"`
}

// Confirm submits the document. A structured failure, including the 400-class
// payment-required response, is returned as *ConfirmError.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	body, err := jsonBody(req)
	if err != nil {
		return ConfirmResult{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, confirmPath, body)
	if err != nil {
		return ConfirmResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: read confirm: %v", ErrTransient, err)
	}

	var out confirmResponse
	if jsonErr := json.Unmarshal(raw, &out); jsonErr != nil || (!out.OK && out.Error == nil) {
		if statusErr := classifyStatus(confirmPath, resp.StatusCode, raw); statusErr != nil {
			return ConfirmResult{}, statusErr
		}
		if jsonErr != nil {
			return ConfirmResult{}, fmt.Errorf("%w: decode confirm: %v", ErrTransient, jsonErr)
		}
		return ConfirmResult{}, &ConfirmError{Code: "UNKNOWN", Message: "bridge returned ok=false without error"}
	}
	if !out.OK {
		return ConfirmResult{}, &ConfirmError{
			Code:           out.Error.Code,
			Message:        out.Error.Message,
			PaymentMethods: decodeMethodNames(out.Error.PaymentMethods),
		}
	}
	return ConfirmResult{Number: out.Number}, nil
}

// decodeMethodNames accepts either ["Cash"] or [{"name":"Cash"}].
func decodeMethodNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names
	}
	var objs []struct {
		Name string `json:"name"`
		Mode string `json:"mode_of_payment"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil
	}
	for _, o := range objs {
		switch {
		case o.Name != "":
			names = append(names, o.Name)
		case o.Mode != "":
			names = append(names, o.Mode)
		}
	}
	return names
}

// InterpretRequest is the planner payload.
type InterpretRequest struct {
	Text    string       `json:"text"`
	State   pos.Snapshot `json:"state"`
	Catalog []string     `json:"catalog"`
}

// Interpret asks the bridge-hosted planner for candidate actions.
func (c *Client) Interpret(ctx context.Context, path string, req InterpretRequest) ([]action.Candidate, error) {
	var out struct {
		Actions []action.Candidate `json:"actions"`
	}
	if err := c.postJSON(ctx, path, req, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}
