// Package pos holds the cart, search-result, and document state mutated by voice actions.
package pos

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rbright/posvoice/internal/search"
)

// Mode is the document type being built.
type Mode string

const (
	ModeQuote    Mode = "PRESUPUESTO"
	ModeInvoice  Mode = "FACTURA"
	ModeDelivery Mode = "REMITO"
)

// DefaultCustomer is used until a customer is named.
const DefaultCustomer = "Consumidor Final"

// ParseMode accepts one of the three document types, case-insensitively.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToUpper(search.Fold(raw))) {
	case ModeQuote:
		return ModeQuote, nil
	case ModeInvoice:
		return ModeInvoice, nil
	case ModeDelivery:
		return ModeDelivery, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

// RequiresPayment reports whether confirming this mode needs a payment method.
func (m Mode) RequiresPayment() bool { return m == ModeInvoice }

var (
	ErrNoResults     = errors.New("no search results")
	ErrIndexRange    = errors.New("index out of range")
	ErrNothingToDo   = errors.New("nothing to do")
	ErrEmptyCustomer = errors.New("customer name is empty")
)

// CartLine is one merged cart row.
type CartLine struct {
	Code     string  `json:"item_code"`
	Name     string  `json:"item_name"`
	Qty      int     `json:"qty"`
	UOM      string  `json:"uom"`
	Rate     float64 `json:"unit_price"`
	Subtotal float64 `json:"subtotal"`
}

// Totals summarizes the cart after the global discount.
type Totals struct {
	Subtotal    float64 `json:"subtotal"`
	DiscountPct float64 `json:"discount_pct"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
	Lines       int     `json:"lines"`
}

// State is the single owned POS context. All methods are safe for concurrent use.
type State struct {
	mu sync.Mutex

	mode      Mode
	customer  string
	discount  float64
	payment   string
	methods   []string
	results   []search.Item
	selected  int
	qty       int
	overrides map[string]int
	cart      []CartLine
	searching int
}

// NewState returns an empty quote with quantity 1.
func NewState() *State {
	return &State{
		mode:      ModeQuote,
		customer:  DefaultCustomer,
		qty:       1,
		overrides: make(map[string]int),
	}
}

// Mode returns the current document type.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches document type and clears the selected payment method.
func (s *State) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.payment = ""
}

// SetResults replaces the result set and selects the first row when present.
func (s *State) SetResults(items []search.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append([]search.Item(nil), items...)
	if len(s.results) > 0 {
		s.selected = 1
	} else {
		s.selected = 0
	}
}

// BeginSearch marks a catalog search in flight until the returned func runs.
func (s *State) BeginSearch() (done func()) {
	s.mu.Lock()
	s.searching++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.searching--
			s.mu.Unlock()
		})
	}
}

// Searching reports whether a search started with BeginSearch is still running.
func (s *State) Searching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searching > 0
}

// Results returns a copy of the current result set.
func (s *State) Results() []search.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]search.Item(nil), s.results...)
}

// ResultCount returns the number of visible results.
func (s *State) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Selected returns the 1-based selection, or 0 when nothing is selected.
func (s *State) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select moves the cursor to a 1-based index and adopts any per-item quantity override.
func (s *State) Select(index int) (search.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return search.Item{}, ErrNoResults
	}
	if index < 1 || index > len(s.results) {
		return search.Item{}, fmt.Errorf("%w: %d not in 1..%d", ErrIndexRange, index, len(s.results))
	}
	s.selected = index
	item := s.results[index-1]
	if q, ok := s.overrides[item.Code]; ok {
		s.qty = q
	}
	return item, nil
}

// Qty returns the current global quantity.
func (s *State) Qty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qty
}

// MaxQty caps a single line quantity.
const MaxQty = 9999

// ErrInvalidQty rejects quantities that are not finite numbers.
var ErrInvalidQty = errors.New("invalid quantity")

// SetQty floors quantity, clamps it to 1..MaxQty and records it against the
// selected item.
func (s *State) SetQty(raw float64) (int, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQty, raw)
	}
	raw = math.Floor(raw)
	q := MaxQty
	if raw < MaxQty {
		q = int(math.Max(raw, 1))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qty = q
	if s.selected >= 1 && s.selected <= len(s.results) {
		s.overrides[s.results[s.selected-1].Code] = q
	}
	return q, nil
}

// Resolve returns the result at index, or at the current selection when index is 0.
func (s *State) Resolve(index int) (search.Item, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return search.Item{}, 0, ErrNoResults
	}
	if index == 0 {
		index = s.selected
	}
	if index < 1 || index > len(s.results) {
		return search.Item{}, 0, fmt.Errorf("%w: %d not in 1..%d", ErrIndexRange, index, len(s.results))
	}
	return s.results[index-1], index, nil
}

// AddLine merges qty of item into a matching (code, price, unit) line or appends one.
// It reports whether an existing line was merged.
func (s *State) AddLine(item search.Item, qty int) (CartLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uom := NormalizeUOM(item.UOM)
	for i := range s.cart {
		line := &s.cart[i]
		if line.Code == item.Code && line.Rate == item.Rate && NormalizeUOM(line.UOM) == uom {
			line.Qty += qty
			line.Subtotal = round2(float64(line.Qty) * line.Rate)
			return *line, true
		}
	}
	line := CartLine{
		Code:     item.Code,
		Name:     item.Name,
		Qty:      qty,
		UOM:      item.UOM,
		Rate:     item.Rate,
		Subtotal: round2(float64(qty) * item.Rate),
	}
	s.cart = append(s.cart, line)
	return line, false
}

// Cart returns a copy of the cart lines.
func (s *State) Cart() []CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CartLine(nil), s.cart...)
}

// ClearCart empties the cart.
func (s *State) ClearCart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cart) == 0 {
		return ErrNothingToDo
	}
	s.cart = nil
	return nil
}

// RemoveLast drops the most recently appended line.
func (s *State) RemoveLast() (CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cart) == 0 {
		return CartLine{}, ErrNothingToDo
	}
	last := s.cart[len(s.cart)-1]
	s.cart = s.cart[:len(s.cart)-1]
	return last, nil
}

// RemoveIndex drops the 1-based cart line.
func (s *State) RemoveIndex(index int) (CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || index > len(s.cart) {
		return CartLine{}, ErrNothingToDo
	}
	return s.removeAt(index - 1), nil
}

// RemoveCode drops the first line with an exact item code.
func (s *State) RemoveCode(code string) (CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, line := range s.cart {
		if line.Code == code {
			return s.removeAt(i), nil
		}
	}
	return CartLine{}, ErrNothingToDo
}

// RemoveName drops the first line whose name contains needle, ignoring case and diacritics.
func (s *State) RemoveName(needle string) (CartLine, error) {
	needle = search.Fold(needle)
	if needle == "" {
		return CartLine{}, ErrNothingToDo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, line := range s.cart {
		if strings.Contains(search.Fold(line.Name), needle) {
			return s.removeAt(i), nil
		}
	}
	return CartLine{}, ErrNothingToDo
}

func (s *State) removeAt(i int) CartLine {
	line := s.cart[i]
	s.cart = append(s.cart[:i], s.cart[i+1:]...)
	return line
}

// SetDiscount clamps a global discount percentage to [0,100].
func (s *State) SetDiscount(pct float64) float64 {
	if math.IsNaN(pct) || pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = pct
	return pct
}

// SetCustomer records a non-blank customer name.
func (s *State) SetCustomer(name string) error {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ErrEmptyCustomer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customer = name
	return nil
}

// Customer returns the current customer.
func (s *State) Customer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customer
}

// SetPayment records the selected payment method.
func (s *State) SetPayment(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payment = method
}

// Payment returns the selected payment method, if any.
func (s *State) Payment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payment
}

// SetPaymentMethods caches the backend's payment method list.
func (s *State) SetPaymentMethods(methods []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append([]string(nil), methods...)
}

// PaymentMethods returns the cached payment method list.
func (s *State) PaymentMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

// Totals computes cart totals after the global discount.
func (s *State) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalsLocked()
}

func (s *State) totalsLocked() Totals {
	sub := 0.0
	for _, line := range s.cart {
		sub += line.Subtotal
	}
	sub = round2(sub)
	disc := round2(sub * s.discount / 100)
	return Totals{
		Subtotal:    sub,
		DiscountPct: s.discount,
		Discount:    disc,
		Total:       round2(sub - disc),
		Lines:       len(s.cart),
	}
}

// ResetAfterConfirm clears the cart, discount, and quantity back to defaults.
func (s *State) ResetAfterConfirm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = nil
	s.discount = 0
	s.qty = 1
	s.overrides = make(map[string]int)
	s.payment = ""
}

// NormalizeUOM folds unit spellings so "Unidad" and "u" merge with "Nos".
func NormalizeUOM(raw string) string {
	x := search.Fold(raw)
	switch x {
	case "unidad", "unidades", "u", "uni", "und", "uds", "":
		return "nos"
	default:
		return x
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
