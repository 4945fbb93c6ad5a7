// Package action defines the fixed command vocabulary shared by the planner,
// the local rule chain, and the guarded dispatcher.
package action

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Name is one catalog action name.
type Name string

const (
	SetMode           Name = "set_mode"
	Search            Name = "search"
	SelectIndex       Name = "select_index"
	SetQty            Name = "set_qty"
	AddToCart         Name = "add_to_cart"
	SetGlobalDiscount Name = "set_global_discount"
	SetCustomer       Name = "set_customer"
	SetPayment        Name = "set_payment"
	ConfirmDocument   Name = "confirm_document"
	ClearCart         Name = "clear_cart"
	RemoveFromCart    Name = "remove_from_cart"
	RemoveLastItem    Name = "remove_last_item"
	Repeat            Name = "repeat"
)

// Catalog is the allow-list sent to planners. Nothing outside it is executed.
var Catalog = []Name{
	SetMode,
	Search,
	SelectIndex,
	SetQty,
	AddToCart,
	SetGlobalDiscount,
	SetCustomer,
	SetPayment,
	ConfirmDocument,
	ClearCart,
	RemoveFromCart,
	RemoveLastItem,
	Repeat,
}

var known = func() map[Name]struct{} {
	out := make(map[Name]struct{}, len(Catalog))
	for _, name := range Catalog {
		out[name] = struct{}{}
	}
	return out
}()

// Known reports whether name is in the catalog.
func Known(name Name) bool {
	_, ok := known[name]
	return ok
}

// CatalogStrings returns the catalog as plain strings for wire payloads.
func CatalogStrings() []string {
	out := make([]string, 0, len(Catalog))
	for _, name := range Catalog {
		out = append(out, string(name))
	}
	return out
}

// Params is an open key/value map of scalar action arguments.
type Params map[string]any

// Action is one command with its parameters.
type Action struct {
	Name   Name   `json:"action"`
	Params Params `json:"params"`
}

// New builds an action from alternating key/value pairs.
func New(name Name, kv ...any) Action {
	params := Params{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		params[key] = kv[i+1]
	}
	return Action{Name: name, Params: params}
}

// String renders the action compactly for logs.
func (a Action) String() string {
	if len(a.Params) == 0 {
		return string(a.Name) + "()"
	}
	raw, err := json.Marshal(a.Params)
	if err != nil {
		return string(a.Name) + "(?)"
	}
	return string(a.Name) + string(raw)
}

// String returns the trimmed string form of key, converting numbers.
func (p Params) String(key string) (string, bool) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// Float returns key as a float, parsing numeric strings.
func (p Params) Float(key string) (float64, bool) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

// Int returns key floored to an integer.
func (p Params) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok {
		return 0, false
	}
	return int(math.Floor(f)), true
}

// Has reports whether key carries a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Equal reports whether two actions have the same name and params.
func Equal(a, b Action) bool {
	return key(a) == key(b)
}

func key(a Action) string {
	raw, err := json.Marshal(a.Params)
	if err != nil {
		return string(a.Name)
	}
	return string(a.Name) + "|" + string(raw)
}
