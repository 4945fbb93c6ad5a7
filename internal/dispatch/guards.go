package dispatch

import (
	"regexp"
	"strconv"

	"github.com/rbright/posvoice/internal/action"
)

// Drop reasons reported for filtered actions.
const (
	ReasonNoConfirmPhrase = "no explicit confirmation phrase"
	ReasonNoAddPhrase     = "no explicit add phrase"
	ReasonBrowsing        = "browsing query without add or index phrasing"
	ReasonNoClearPhrase   = "no explicit clear-cart phrase"
	ReasonNoRemovePhrase  = "no explicit remove phrase"
	ReasonNoLastPhrase    = "no explicit last-item phrase"
	ReasonNoModePhrase    = "no explicit mode phrase"
	ReasonNoPaymentPhrase = "no payment phrase"
)

// Guard phrases run against the normalized utterance (folded, digits for
// spelled numbers).
var (
	modePhrase    = regexp.MustCompile(`\bmodo\s+(?:factura|presupuesto|remito)\b|\b(?:pasar|pasa|pone|poner|cambiar|cambia)\s+a\s+(?:factura|presupuesto|remito)\b`)
	// A bare "factura" is only the imperative when it opens the utterance;
	// elsewhere it is the noun ("talonario factura").
	confirmPhrase = regexp.MustCompile(`^\s*factura\b|\b(?:confirm(?:ar|o|ado|ame|emos|a)?|factur(?:ar|alo|ala|emos)|emiti(?:r)?\s+(?:la\s+)?(?:factura|comprobante)|cerr(?:ar|a)\s+(?:la\s+)?venta)\b`)
	addPhrase     = regexp.MustCompile(`\b(?:agrega(?:r|lo|la|los|las|me|do)?|agregame|agregalo|agregala|anadi(?:r)?|anade|suma(?:r|lo|la|me)?|inclui(?:r|lo)?|incluye|mete(?:r|lo|la)?|cargalo|carga(?:r)?)\b`)
	browsePhrase  = regexp.MustCompile(`\b(?:busca(?:r|me)?|mostra(?:r|me)?|quiero ver|que (?:hay|tenes|tenemos|tienen)|hay|tenes|tienen|lista(?:r|me)?)\b`)
	indexPhrase   = regexp.MustCompile(`\b(?:items?|numero|num|el|la|opcion)\s*(?:numero\s*)?\d{1,3}\b`)
	clearPhrase   = regexp.MustCompile(`\b(?:vacia|limpia|borra)(?:r|lo)?\b.*\bcarrito\b`)
	removePhrase  = regexp.MustCompile(`\b(?:borra|elimina|saca|quita)(?:r|lo|la|le|me)?\b.*\b(?:items?|producto|articulo|carrito|linea)\b`)
	lastPhrase    = regexp.MustCompile(`\b(?:ultim[oa]|final|last)\b`)
	paymentPhrase = regexp.MustCompile(`\b(?:pag(?:a|ar|ame|o|an)|cobr(?:a|ar|ame|alo)|efectivo|contado|cash|tarjeta|debito|credito|transferencias?|qr|mercado\s*pago|mp)\b`)
	cartWord      = regexp.MustCompile(`\bcarrito\b`)
	removeIndex   = regexp.MustCompile(`\b(?:borra|elimina|saca|quita)(?:r|lo|la|le|me)?\s+(?:el\s+|la\s+)?(?:items?\s+|numero\s+|linea\s+)?(\d{1,3})\b`)
)

// Intent is what the utterance explicitly asks for, read once per dispatch.
type Intent struct {
	Confirm bool
	Add     bool
	Browse  bool
	Index   bool
	Clear   bool
	Remove  bool
	Last    bool
	Mode    bool
	Payment bool

	// RemoveIndex is a cart line index spoken together with a remove verb and
	// "carrito", or 0.
	RemoveIndex int
}

// ReadIntent scans a normalized utterance for explicit cues.
func ReadIntent(text string) Intent {
	// "modo factura" is a mode switch, not a request to invoice.
	confirmText := modePhrase.ReplaceAllString(text, " ")
	in := Intent{
		Confirm: confirmPhrase.MatchString(confirmText),
		Add:     addPhrase.MatchString(text),
		Browse:  browsePhrase.MatchString(text),
		Index:   indexPhrase.MatchString(text),
		Clear:   clearPhrase.MatchString(text),
		Remove:  removePhrase.MatchString(text),
		Last:    lastPhrase.MatchString(text),
		Mode:    modePhrase.MatchString(text),
		Payment: paymentPhrase.MatchString(text),
	}
	if cartWord.MatchString(text) {
		if m := removeIndex.FindStringSubmatch(text); m != nil {
			in.RemoveIndex, _ = strconv.Atoi(m[1])
		}
	}
	return in
}

// Within narrows an intent read from text nested inside an utterance, such as
// a search term, to what the utterance itself allows. A cue counts only when
// both say it; browsing counts when either does.
func (in Intent) Within(outer Intent) Intent {
	out := Intent{
		Confirm: in.Confirm && outer.Confirm,
		Add:     in.Add && outer.Add,
		Browse:  in.Browse || outer.Browse,
		Index:   in.Index && outer.Index,
		Clear:   in.Clear && outer.Clear,
		Remove:  in.Remove && outer.Remove,
		Last:    in.Last && outer.Last,
		Mode:    in.Mode && outer.Mode,
		Payment: in.Payment && outer.Payment,
	}
	if in.RemoveIndex == outer.RemoveIndex {
		out.RemoveIndex = outer.RemoveIndex
	}
	return out
}

// Dropped is an action removed by a guard.
type Dropped struct {
	Action action.Action
	Reason string
	// Ask is an optional question to put to the operator instead.
	Ask string
}

type guard struct {
	name   action.Name
	reason string
	ask    string
	allow  func(Intent) bool
}

// guards run in order over the whole batch. The first three are the core
// explicit-intent rules; the rest cover the remaining state-changing actions.
var guards = []guard{
	{
		name:   action.ConfirmDocument,
		reason: ReasonNoConfirmPhrase,
		ask:    "¿Querés cerrar la venta? Decí confirmar.",
		allow:  func(in Intent) bool { return in.Confirm },
	},
	{
		name:   action.AddToCart,
		reason: ReasonNoAddPhrase,
		ask:    "Para sumarlo al carrito decí agregar.",
		allow:  func(in Intent) bool { return in.Add },
	},
	{name: action.SelectIndex, reason: ReasonBrowsing, allow: notBrowsing},
	{name: action.SetQty, reason: ReasonBrowsing, allow: notBrowsing},
	{name: action.ClearCart, reason: ReasonNoClearPhrase, allow: func(in Intent) bool { return in.Clear }},
	{name: action.RemoveFromCart, reason: ReasonNoRemovePhrase, allow: func(in Intent) bool { return in.Remove }},
	{name: action.RemoveLastItem, reason: ReasonNoLastPhrase, allow: func(in Intent) bool { return in.Last }},
	{name: action.SetMode, reason: ReasonNoModePhrase, allow: func(in Intent) bool { return in.Mode }},
	{name: action.SetPayment, reason: ReasonNoPaymentPhrase, allow: func(in Intent) bool { return in.Payment }},
}

func notBrowsing(in Intent) bool {
	return !in.Browse || in.Add || in.Index
}

// Filter applies the guards in order and returns the surviving batch along
// with what was dropped and why. A spoken cart index overrides the index of
// any remove_from_cart action.
func Filter(intent Intent, actions []action.Action) ([]action.Action, []Dropped) {
	kept := append([]action.Action(nil), actions...)
	var dropped []Dropped
	for _, g := range guards {
		next := kept[:0:0]
		for _, a := range kept {
			if a.Name == g.name && !g.allow(intent) {
				dropped = append(dropped, Dropped{Action: a, Reason: g.reason, Ask: g.ask})
				continue
			}
			next = append(next, a)
		}
		kept = next
	}

	if intent.RemoveIndex > 0 {
		for i, a := range kept {
			if a.Name == action.RemoveFromCart {
				kept[i] = action.New(action.RemoveFromCart, "index", intent.RemoveIndex)
			}
		}
	}
	return kept, dropped
}

// Batch splits a filtered list into the actions that run in order and the
// single add that runs last. The add uses the index of the last select_index
// in the batch, else its own index param, else the current selection (0).
func Batch(actions []action.Action) (ordered []action.Action, add *action.Action) {
	lastSelect := 0
	addIndex := 0
	sawAdd := false
	for _, a := range actions {
		switch a.Name {
		case action.AddToCart:
			sawAdd = true
			if idx, ok := a.Params.Int("index"); ok && addIndex == 0 {
				addIndex = idx
			}
			if qty, ok := a.Params.Float("qty"); ok {
				ordered = append(ordered, action.New(action.SetQty, "qty", qty))
			}
			continue
		case action.SelectIndex:
			if idx, ok := a.Params.Int("index"); ok {
				lastSelect = idx
			}
		}
		ordered = append(ordered, a)
	}
	if !sawAdd {
		return ordered, nil
	}
	idx := addIndex
	if lastSelect != 0 {
		idx = lastSelect
	}
	one := action.New(action.AddToCart)
	if idx != 0 {
		one.Params["index"] = idx
	}
	return ordered, &one
}
