package interpret

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/pos"
)

// Input is what a local rule sees.
type Input struct {
	// Text is the normalized utterance.
	Text string
	// Raw is the utterance as spoken, used where case and accents matter.
	Raw   string
	State pos.Snapshot
}

// Rule is one entry of the local fallback chain. Build may return nil to
// decline after a pattern match, letting the next rule try.
type Rule struct {
	Name         string
	Pattern      *regexp.Regexp
	NeedsResults bool
	Build        func(m []string, in Input) []action.Action
}

var (
	addVerb = regexp.MustCompile(`\b(agrega(?:r|lo|la|me|do)?|agregame|agregalo|anadi(?:r)?|anade|suma(?:r|lo|la)?|inclui(?:r)?|incluye|incluilo|mete(?:r|lo)?)\b`)
	cartRef = regexp.MustCompile(`\bcarrito\b`)
	number  = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
)

// DefaultRules is the ordered fallback chain. The first rule that matches and
// builds a non-nil result wins.
var DefaultRules = []Rule{
	{
		Name:    "mode",
		Pattern: regexp.MustCompile(`\bmodo\s+(presupuesto|factura|remito)\b`),
		Build: func(m []string, _ Input) []action.Action {
			return []action.Action{action.New(action.SetMode, "mode", strings.ToUpper(m[1]))}
		},
	},
	{
		Name:    "confirm",
		Pattern: regexp.MustCompile(`^factura\b|\b(confirm(?:ar|o|ado|ame|emos)?|factur(?:ar|alo|ala|emos)|emiti(?:r)?\s+(?:la\s+)?(?:factura|comprobante)|cerr(?:ar|a)\s*(?:la\s+)?venta)\b`),
		Build: func([]string, Input) []action.Action {
			return []action.Action{action.New(action.ConfirmDocument)}
		},
	},
	{
		Name:    "payment",
		Pattern: regexp.MustCompile(`\b(efectivo|cash|transferencias?|tarjeta\s+(?:de\s+)?(?:credito|debito)|mercado\s*pago|qr)\b`),
		Build: func(m []string, _ Input) []action.Action {
			method := CanonicalPayment(m[1])
			if method == "" {
				return nil
			}
			return []action.Action{action.New(action.SetPayment, "mop", method)}
		},
	},
	{
		Name:    "search_phrase",
		Pattern: regexp.MustCompile(`^(?:busca(?:r|me)?|mostra(?:r|me)?|quiero ver|hay|tenes|tienen)\b\s*[:,-]?\s*(.+)$`),
		Build: func(m []string, _ Input) []action.Action {
			term := CleanTerm(m[1])
			if term == "" {
				return nil
			}
			return []action.Action{action.New(action.Search, "term", term)}
		},
	},
	{
		Name:    "remove_last",
		Pattern: regexp.MustCompile(`\b(ultim[oa]|final)\b.*\bcarrito\b|\bcarrito\b.*\b(ultim[oa]|final)\b`),
		Build: func([]string, Input) []action.Action {
			return []action.Action{action.New(action.RemoveLastItem)}
		},
	},
	{
		Name:    "remove_index",
		Pattern: regexp.MustCompile(`\b(?:borra(?:r|lo)?|elimina(?:r)?|saca(?:r)?|quita(?:r)?)\b.*\bcarrito\b`),
		Build: func(_ []string, in Input) []action.Action {
			idx, ok := parseIndex(in.Text)
			if !ok || idx < 1 || idx > len(in.State.Cart) {
				return nil
			}
			return []action.Action{action.New(action.RemoveFromCart, "index", idx)}
		},
	},
	{
		Name:    "clear_cart",
		Pattern: regexp.MustCompile(`\b(?:vacia(?:r)?|limpia(?:r)?|borra(?:r)?)\s+(?:el\s+|todo\s+el\s+)?carrito\b`),
		Build: func([]string, Input) []action.Action {
			return []action.Action{action.New(action.ClearCart)}
		},
	},
	{
		Name:    "remove_name",
		Pattern: regexp.MustCompile(`\b(?:borra(?:r)?|elimina(?:r)?|saca(?:r)?|quita(?:r)?)\s+(?:el\s+|la\s+|los\s+|las\s+)?(.+?)\s+del\s+carrito\b`),
		Build: func(m []string, _ Input) []action.Action {
			name := strings.TrimSpace(m[1])
			if len(name) < 2 {
				return nil
			}
			return []action.Action{action.New(action.RemoveFromCart, "name", name)}
		},
	},
	{
		Name:    "discount",
		Pattern: regexp.MustCompile(`\bdescuento\s+(?:de(?:l)?\s+)?(\d+(?:\.\d+)?)`),
		Build: func(m []string, _ Input) []action.Action {
			pct, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return nil
			}
			return []action.Action{action.New(action.SetGlobalDiscount, "pct", pct)}
		},
	},
	{
		Name:    "customer",
		Pattern: regexp.MustCompile(`^(?:el\s+)?cliente\s+(?:es\s+)?\S`),
		Build: func(_ []string, in Input) []action.Action {
			name := customerName(in.Raw)
			if name == "" {
				return nil
			}
			return []action.Action{action.New(action.SetCustomer, "name", name)}
		},
	},
	{
		Name:    "repeat",
		Pattern: regexp.MustCompile(`\b(repeti(?:r|me)?|repeat|total|cuanto (?:es|va|llevo|sale|da))\b`),
		Build: func([]string, Input) []action.Action {
			return []action.Action{action.New(action.Repeat)}
		},
	},
	{
		Name:    "single_token_search",
		Pattern: regexp.MustCompile(`^\S+$`),
		Build: func(m []string, _ Input) []action.Action {
			tok := m[0]
			if number.MatchString(tok) || addVerb.MatchString(tok) {
				return nil
			}
			return []action.Action{action.New(action.Search, "term", tok)}
		},
	},
	{
		Name:         "index_qty",
		Pattern:      indexPattern,
		NeedsResults: true,
		Build: func(_ []string, in Input) []action.Action {
			if addVerb.MatchString(in.Text) {
				return nil
			}
			idx, _ := parseIndex(in.Text)
			qty := parseQty(stripIndex(in.Text))
			if !qty.hasAbs() {
				return nil
			}
			return []action.Action{
				action.New(action.SelectIndex, "index", idx),
				action.New(action.SetQty, "qty", qty.abs),
			}
		},
	},
	{
		Name:         "select_add",
		Pattern:      addVerb,
		NeedsResults: true,
		Build: func(_ []string, in Input) []action.Action {
			idx, hasIdx := parseIndex(in.Text)
			qty := parseQty(stripIndex(in.Text))
			if !hasIdx && !qty.hasAbs() {
				return nil
			}
			var out []action.Action
			if hasIdx {
				out = append(out, action.New(action.SelectIndex, "index", idx))
			}
			if qty.hasAbs() {
				out = append(out, action.New(action.SetQty, "qty", qty.abs))
			}
			return append(out, action.New(action.AddToCart))
		},
	},
	{
		Name:         "qty_delta",
		Pattern:      regexp.MustCompile(`\b(sumale|agregale|aumenta|subi|subile|sacale|quitale|disminui|baja|bajale|restale|restar)\b`),
		NeedsResults: true,
		Build: func(_ []string, in Input) []action.Action {
			qty := parseQty(stripIndex(in.Text))
			if !qty.hasDelta() {
				return nil
			}
			next := in.State.QtyHint + qty.plus - qty.minus
			if next < 1 {
				next = 1
			}
			return []action.Action{action.New(action.SetQty, "qty", next)}
		},
	},
	{
		Name:         "add_current",
		Pattern:      addVerb,
		NeedsResults: true,
		Build: func([]string, Input) []action.Action {
			return []action.Action{action.New(action.AddToCart)}
		},
	},
	{
		Name:         "bare_qty",
		Pattern:      regexp.MustCompile(`\d`),
		NeedsResults: true,
		Build: func(_ []string, in Input) []action.Action {
			qty := parseQty(stripIndex(in.Text))
			if !qty.hasAbs() {
				return nil
			}
			return []action.Action{action.New(action.SetQty, "qty", qty.abs)}
		},
	},
	{
		Name:         "bare_index",
		Pattern:      indexPattern,
		NeedsResults: true,
		Build: func(_ []string, in Input) []action.Action {
			idx, ok := parseIndex(in.Text)
			if !ok {
				return nil
			}
			return []action.Action{action.New(action.SelectIndex, "index", idx)}
		},
	},
	{
		Name:    "literal_search",
		Pattern: regexp.MustCompile(`\S`),
		Build: func(_ []string, in Input) []action.Action {
			term := CleanTerm(in.Text)
			if term == "" {
				return nil
			}
			return []action.Action{action.New(action.Search, "term", term)}
		},
	},
}

// Match runs rules in order and returns the first non-nil result.
func Match(rules []Rule, in Input) (Rule, []action.Action, bool) {
	for _, rule := range rules {
		m := rule.Pattern.FindStringSubmatch(in.Text)
		if m == nil {
			continue
		}
		if out := rule.Build(m, in); out != nil {
			return rule, out, true
		}
	}
	return Rule{}, nil, false
}

var customerPrefix = regexp.MustCompile(`(?i)^\s*(?:el\s+)?cliente\s+(?:es\s+)?`)

func customerName(raw string) string {
	loc := customerPrefix.FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	name := strings.Trim(raw[loc[1]:], " .,;:!?¡¿")
	return strings.Join(strings.Fields(name), " ")
}

var (
	searchVerbs = regexp.MustCompile(`^(?:busca(?:r|me)?|mostra(?:r|me)?|quiero ver|hay|tenes|tienen|que tenemos de|que hay de)\s*[:,-]?\s*`)
	courtesy    = regexp.MustCompile(`\b(?:por\s*fa(?:vor)?|porfis|porfa)\b`)
	articles    = regexp.MustCompile(`^(?:a|al|la|el|los|las|un|una|unos|unas)\s+`)
	termPunct   = regexp.MustCompile(`[^\p{L}\p{N}\s/"'.-]+`)
)

// CleanTerm strips search-verb filler, courtesy words, leading articles and
// stray punctuation from a search term.
func CleanTerm(term string) string {
	t := strings.ToLower(strings.TrimSpace(term))
	t = searchVerbs.ReplaceAllString(t, "")
	t = courtesy.ReplaceAllString(t, " ")
	t = termPunct.ReplaceAllString(t, " ")
	t = strings.Join(strings.Fields(t), " ")
	t = articles.ReplaceAllString(t, "")
	return strings.Trim(t, " .-")
}

var paymentAliases = []struct {
	re     *regexp.Regexp
	method string
}{
	{regexp.MustCompile(`\b(efectivo|cash|contado)\b`), "Cash"},
	{regexp.MustCompile(`\b(transferencias?|bank draft)\b`), "Bank Draft"},
	{regexp.MustCompile(`\b(?:tarjeta\s+(?:de\s+)?)?(credito|credit card)\b`), "Credit Card"},
	{regexp.MustCompile(`\b(?:tarjeta\s+(?:de\s+)?)?(debito|debit card)\b`), "Debit Card"},
	{regexp.MustCompile(`\b(mercado\s*pago|mp|qr)\b`), "Mercado Pago"},
}

// CanonicalPayment maps colloquial payment phrases to method names.
// Unknown input yields "".
func CanonicalPayment(raw string) string {
	folded := strings.ToLower(Normalize(raw))
	for _, alias := range paymentAliases {
		if alias.re.MatchString(folded) {
			return alias.method
		}
	}
	return ""
}
