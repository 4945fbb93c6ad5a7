package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/bridge"
	"github.com/rbright/posvoice/internal/feed"
	"github.com/rbright/posvoice/internal/interpret"
	"github.com/rbright/posvoice/internal/pos"
	"github.com/rbright/posvoice/internal/search"
)

var (
	errDuplicate    = errors.New("duplicate add within debounce window")
	errMissingParam = errors.New("missing parameter")
	errEmptyCart    = errors.New("cart is empty")
)

var qtyWord = regexp.MustCompile(`\bcantidad\b`)

func (d *Dispatcher) handle(c *call, a action.Action) error {
	switch a.Name {
	case action.SetMode:
		return d.setMode(c.ctx, a)
	case action.Search:
		return d.search(c, a)
	case action.SelectIndex:
		return d.selectIndex(a)
	case action.SetQty:
		return d.setQty(a)
	case action.AddToCart:
		return d.addToCart(c.ctx, a)
	case action.SetGlobalDiscount:
		pct, ok := a.Params.Float("pct")
		if !ok {
			return fmt.Errorf("%w: pct", errMissingParam)
		}
		d.state.SetDiscount(pct)
		return nil
	case action.SetCustomer:
		name, _ := a.Params.String("name")
		return d.state.SetCustomer(name)
	case action.SetPayment:
		return d.setPayment(c.ctx, a)
	case action.ConfirmDocument:
		return d.confirm(c)
	case action.ClearCart:
		return d.state.ClearCart()
	case action.RemoveLastItem:
		_, err := d.state.RemoveLast()
		return err
	case action.RemoveFromCart:
		return d.removeFromCart(a)
	case action.Repeat:
		d.say(describeTotals(d.state.Totals()))
		return nil
	default:
		return fmt.Errorf("no handler for %s", a.Name)
	}
}

func (d *Dispatcher) setMode(ctx context.Context, a action.Action) error {
	raw, _ := a.Params.String("mode")
	mode, err := pos.ParseMode(raw)
	if err != nil {
		return err
	}
	d.state.SetMode(mode)
	if mode.RequiresPayment() {
		bg := context.WithoutCancel(ctx)
		d.async(func() { d.loadPaymentMethods(bg) })
	}
	return nil
}

// splitCommand cuts a search term at the first word that starts an index, add
// or quantity instruction. literal is the plain search text before it.
func splitCommand(term string) (literal string, command string, ok bool) {
	words := strings.Fields(term)
	for i := range words {
		rest := strings.Join(words[i:], " ")
		if startsCommand(interpret.Normalize(rest)) {
			return strings.Join(words[:i], " "), rest, true
		}
	}
	return term, "", false
}

func startsCommand(normalized string) bool {
	for _, re := range []*regexp.Regexp{indexPhrase, addPhrase, qtyWord} {
		if loc := re.FindStringIndex(normalized); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}

func (d *Dispatcher) search(c *call, a action.Action) error {
	raw, ok := a.Params.String("term")
	if !ok {
		raw, ok = a.Params.String("query")
	}
	if !ok {
		return fmt.Errorf("%w: term", errMissingParam)
	}

	d.mu.Lock()
	reinterpreter := d.interpreter
	d.mu.Unlock()
	if reinterpreter == nil || c.depth >= maxReroutes {
		return d.runSearch(c, raw)
	}
	literal, command, compound := splitCommand(raw)
	if !compound {
		return d.runSearch(c, raw)
	}

	// The literal part runs first so the instruction sees its results.
	if interpret.CleanTerm(literal) != "" {
		if err := d.runSearch(c, literal); err != nil {
			return err
		}
	}
	res := reinterpreter.Interpret(c.ctx, command)
	d.info("search term re-routed to interpreter", "term", raw, "command", command, "actions", len(res.Actions))
	c.report.Rerouted = true
	// The nested text came from the search slot, not from the operator, so it
	// can only narrow what the utterance allows.
	nested := ReadIntent(interpret.Normalize(command)).Within(c.intent)
	c.report.merge(d.dispatch(c.ctx, nested, res.Actions, c.depth+1))
	return nil
}

func (d *Dispatcher) runSearch(c *call, raw string) error {
	term := interpret.CleanTerm(raw)
	if term == "" {
		return fmt.Errorf("%w: term is empty after cleanup", errMissingParam)
	}
	done := d.state.BeginSearch()
	defer done()
	rows, err := d.catalog.Search(c.ctx, term, searchFetchLimit)
	if err != nil {
		return fmt.Errorf("search %q: %w", term, err)
	}
	items := search.Rank(rows, term, d.maxResults)
	d.state.SetResults(items)
	d.publish("info", feed.KindState, fmt.Sprintf("%d resultados para %q", len(items), term), map[string]any{
		"term":    term,
		"results": items,
	})
	if len(items) == 0 {
		d.say(fmt.Sprintf("No encontré resultados para %s.", term))
	}
	return nil
}

func (d *Dispatcher) selectIndex(a action.Action) error {
	idx, ok := a.Params.Int("index")
	if !ok {
		return fmt.Errorf("%w: index", errMissingParam)
	}
	_, err := d.state.Select(idx)
	return err
}

func (d *Dispatcher) setQty(a action.Action) error {
	qty, ok := a.Params.Float("qty")
	if !ok {
		return fmt.Errorf("%w: qty", errMissingParam)
	}
	_, err := d.state.SetQty(qty)
	return err
}

func (d *Dispatcher) addToCart(ctx context.Context, a action.Action) error {
	idx, _ := a.Params.Int("index")
	item, _, err := d.state.Resolve(idx)
	if err != nil {
		return err
	}
	qty := d.state.Qty()
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", qty)
	}

	now := d.now()
	d.mu.Lock()
	if d.addDebounce > 0 && d.last.code == item.Code && d.last.qty == qty && now.Sub(d.last.at) < d.addDebounce {
		d.mu.Unlock()
		return errDuplicate
	}
	d.last = lastAdd{code: item.Code, qty: qty, at: now}
	d.mu.Unlock()

	if d.refreshPrices {
		detail, err := d.catalog.ItemDetail(ctx, item.Code, qty, d.state.Mode())
		switch {
		case err != nil:
			d.log("warn", "price refresh failed; using listed price", "item_code", item.Code, "error", err.Error())
		default:
			if detail.Rate > 0 {
				item.Rate = detail.Rate
			}
			if detail.UOM != "" {
				item.UOM = detail.UOM
			}
		}
	}

	line, merged := d.state.AddLine(item, qty)
	d.publish("info", feed.KindState, "cart updated", map[string]any{"line": line, "merged": merged})
	d.say(fmt.Sprintf("Agregué %d %s.", qty, item.Name))
	return nil
}

func (d *Dispatcher) setPayment(ctx context.Context, a action.Action) error {
	raw, ok := a.Params.String("mop")
	if !ok {
		raw, ok = a.Params.String("method")
	}
	if !ok {
		return fmt.Errorf("%w: mop", errMissingParam)
	}
	method := interpret.CanonicalPayment(raw)
	if method == "" {
		method = raw
	}
	if len(d.state.PaymentMethods()) == 0 {
		d.loadPaymentMethods(ctx)
	}
	d.state.SetPayment(method)
	return nil
}

func (d *Dispatcher) loadPaymentMethods(ctx context.Context) []string {
	methods, err := d.catalog.PaymentMethods(ctx)
	if err != nil {
		d.log("warn", "load payment methods failed", "error", err.Error())
		return nil
	}
	d.state.SetPaymentMethods(methods)
	return methods
}

func (d *Dispatcher) confirm(c *call) error {
	cart := d.state.Cart()
	if len(cart) == 0 {
		return errEmptyCart
	}
	totals := d.state.Totals()
	req := bridge.ConfirmRequest{
		Mode:        d.state.Mode(),
		Customer:    d.state.Customer(),
		Items:       make([]bridge.ConfirmItem, 0, len(cart)),
		DiscountPct: totals.DiscountPct,
	}
	for _, line := range cart {
		req.Items = append(req.Items, bridge.ConfirmItem{Code: line.Code, Qty: line.Qty, Rate: line.Rate, UOM: line.UOM})
	}
	if method := d.state.Payment(); method != "" {
		req.Payments = []bridge.ConfirmPayment{{Method: method, Amount: totals.Total}}
	}

	result, err := d.catalog.Confirm(c.ctx, req)
	if err != nil {
		outcome := &ConfirmOutcome{Error: err.Error()}
		c.report.Confirm = outcome

		var cerr *bridge.ConfirmError
		if errors.As(err, &cerr) && errors.Is(err, bridge.ErrPaymentRequired) {
			outcome.PaymentRequired = true
			outcome.Methods = cerr.PaymentMethods
			if len(outcome.Methods) == 0 {
				outcome.Methods = d.state.PaymentMethods()
			}
			if len(outcome.Methods) == 0 {
				outcome.Methods = d.loadPaymentMethods(c.ctx)
			} else {
				d.state.SetPaymentMethods(outcome.Methods)
			}
			d.publish("warn", feed.KindConfirm, "payment method required", map[string]any{"methods": outcome.Methods})
			d.say(askPayment(outcome.Methods))
			return nil
		}

		d.publish("error", feed.KindConfirm, "confirm failed", map[string]any{"error": err.Error()})
		d.say("No pude confirmar el comprobante. El carrito queda como está.")
		return fmt.Errorf("confirm: %w", err)
	}

	d.state.ResetAfterConfirm()
	c.report.Confirm = &ConfirmOutcome{OK: true, Number: result.Number}
	d.publish("info", feed.KindConfirm, "document confirmed", map[string]any{"number": result.Number, "total": totals.Total})
	d.say(fmt.Sprintf("Listo, comprobante %s confirmado.", result.Number))
	return nil
}

func (d *Dispatcher) removeFromCart(a action.Action) error {
	var err error
	switch {
	case a.Params.Has("index"):
		idx, ok := a.Params.Int("index")
		if !ok {
			return fmt.Errorf("%w: index", errMissingParam)
		}
		_, err = d.state.RemoveIndex(idx)
	case a.Params.Has("code"):
		code, _ := a.Params.String("code")
		_, err = d.state.RemoveCode(code)
	case a.Params.Has("name"):
		name, _ := a.Params.String("name")
		_, err = d.state.RemoveName(name)
	default:
		return fmt.Errorf("%w: index, code or name", errMissingParam)
	}
	return err
}

func askPayment(methods []string) string {
	if len(methods) == 0 {
		return "Falta el medio de pago."
	}
	return "Falta el medio de pago. Opciones: " + strings.Join(methods, ", ") + "."
}

func describeTotals(t pos.Totals) string {
	if t.Lines == 0 {
		return "El carrito está vacío."
	}
	lines := "líneas"
	if t.Lines == 1 {
		lines = "línea"
	}
	if t.Discount > 0 {
		return fmt.Sprintf("Total %.2f con %.0f%% de descuento, %d %s.", t.Total, t.DiscountPct, t.Lines, lines)
	}
	return fmt.Sprintf("Total %.2f, %d %s.", t.Total, t.Lines, lines)
}
