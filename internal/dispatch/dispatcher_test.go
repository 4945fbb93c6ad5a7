package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/bridge"
	"github.com/rbright/posvoice/internal/feed"
	"github.com/rbright/posvoice/internal/interpret"
	"github.com/rbright/posvoice/internal/pos"
	"github.com/rbright/posvoice/internal/search"
)

type fakeCatalog struct {
	rows        []search.Row
	searches    []string
	detail      bridge.ItemDetail
	detailErr   error
	methods     []string
	methodCalls int
	confirms    []bridge.ConfirmRequest
	confirmRes  bridge.ConfirmResult
	confirmErr  error
}

func (f *fakeCatalog) Search(_ context.Context, query string, _ int) ([]search.Row, error) {
	f.searches = append(f.searches, query)
	return f.rows, nil
}

func (f *fakeCatalog) ItemDetail(context.Context, string, int, pos.Mode) (bridge.ItemDetail, error) {
	return f.detail, f.detailErr
}

func (f *fakeCatalog) PaymentMethods(context.Context) ([]string, error) {
	f.methodCalls++
	return f.methods, nil
}

func (f *fakeCatalog) Confirm(_ context.Context, req bridge.ConfirmRequest) (bridge.ConfirmResult, error) {
	f.confirms = append(f.confirms, req)
	return f.confirmRes, f.confirmErr
}

type fakeSpeaker struct{ said []string }

func (s *fakeSpeaker) Speak(text string) error {
	s.said = append(s.said, text)
	return nil
}

type fakeReinterpreter struct {
	texts  []string
	result interpret.Result
}

func (f *fakeReinterpreter) Interpret(_ context.Context, text string) interpret.Result {
	f.texts = append(f.texts, text)
	return f.result
}

type harness struct {
	d       *Dispatcher
	state   *pos.State
	catalog *fakeCatalog
	speaker *fakeSpeaker
	hub     *feed.Hub
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:   pos.NewState(),
		catalog: &fakeCatalog{methods: []string{"Cash", "Bank Draft"}},
		speaker: &fakeSpeaker{},
		hub:     feed.NewHub(nil),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d, err := New(Options{
		State:       h.state,
		Catalog:     h.catalog,
		Speaker:     h.speaker,
		Feed:        h.hub,
		AddDebounce: DefaultAddDebounce,
	})
	require.NoError(t, err)
	d.now = func() time.Time { return h.now }
	d.async = func(f func()) { f() }
	h.d = d
	return h
}

func (h *harness) results(items ...search.Item) {
	for i := range items {
		items[i].Index = i + 1
	}
	h.state.SetResults(items)
}

func TestNewRequiresStateAndCatalog(t *testing.T) {
	_, err := New(Options{Catalog: &fakeCatalog{}})
	require.Error(t, err)
	_, err = New(Options{State: pos.NewState()})
	require.Error(t, err)
}

func TestSearchRanksInStockFirst(t *testing.T) {
	h := newHarness(t)
	h.catalog.rows = []search.Row{
		{Code: "PVC34", Name: "Caño PVC 3/4", Rate: 900, Qty: 0},
		{Code: "TF34", Name: "Caño termofusión 3/4", Rate: 1500, Qty: 5},
		{Code: "GA34", Name: "Caño galvanizado 3/4", Rate: 3200, Qty: 2},
	}

	report := h.d.Dispatch(context.Background(), "buscar caño 3/4", []action.Action{
		action.New(action.Search, "term", "caño 3/4"),
	})
	require.Len(t, report.Executed, 1)
	require.Equal(t, []string{"caño 3/4"}, h.catalog.searches)

	got := h.state.Results()
	require.Len(t, got, 3)
	require.Equal(t, []string{"TF34", "GA34", "PVC34"}, []string{got[0].Code, got[1].Code, got[2].Code})
	require.Equal(t, 1, h.state.Selected())
}

func TestSearchWithoutResultsClearsSelectionAndSpeaks(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "A", Name: "Viejo", Qty: 1})

	h.d.Dispatch(context.Background(), "buscar tornillo", []action.Action{action.New(action.Search, "term", "tornillo")})
	require.Zero(t, h.state.ResultCount())
	require.Zero(t, h.state.Selected())
	require.Equal(t, []string{"No encontré resultados para tornillo."}, h.speaker.said)
}

func TestSearchTermThatIsACommandIsRerouted(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "A", Qty: 1}, search.Item{Code: "B", Qty: 1})
	re := &fakeReinterpreter{result: interpret.Result{Actions: []action.Action{
		action.New(action.SelectIndex, "index", 2),
		action.New(action.SetQty, "qty", 3),
	}}}
	h.d.SetInterpreter(re)

	report := h.d.Dispatch(context.Background(), "ítem 2 cantidad 3", []action.Action{
		action.New(action.Search, "term", "ítem 2 cantidad 3"),
	})
	require.True(t, report.Rerouted)
	require.Empty(t, h.catalog.searches)
	require.Equal(t, []string{"ítem 2 cantidad 3"}, re.texts)
	require.Equal(t, 2, h.state.Selected())
	require.Equal(t, 3, h.state.Qty())
}

func TestReroutedSearchCannotWidenTheUtterance(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "A", Name: "Caño", Rate: 10, Qty: 1})
	h.state.AddLine(search.Item{Code: "X", Name: "Codo", Rate: 5}, 1)
	re := &fakeReinterpreter{result: interpret.Result{Actions: []action.Action{
		action.New(action.SelectIndex, "index", 1),
		action.New(action.AddToCart),
		action.New(action.ConfirmDocument),
	}}}
	h.d.SetInterpreter(re)

	report := h.d.Dispatch(context.Background(), "mostrame caños", []action.Action{
		action.New(action.Search, "term", "agregar item 1 y confirmar"),
	})
	require.True(t, report.Rerouted)
	require.Equal(t, []string{"agregar item 1 y confirmar"}, re.texts)
	require.Empty(t, h.catalog.confirms)
	require.Empty(t, h.catalog.searches)
	require.Len(t, h.state.Cart(), 1)
	require.Equal(t, "X", h.state.Cart()[0].Code)

	reasons := make([]string, 0, len(report.Dropped))
	for _, dr := range report.Dropped {
		reasons = append(reasons, dr.Reason)
	}
	require.ElementsMatch(t, []string{ReasonNoConfirmPhrase, ReasonNoAddPhrase, ReasonBrowsing}, reasons)
}

func TestCompoundSearchTermSearchesThenRunsInstruction(t *testing.T) {
	h := newHarness(t)
	h.catalog.rows = []search.Row{{Code: "C12", Name: "Caño 1/2", UOM: "Nos", Rate: 100, Qty: 3}}
	in := interpret.New(interpret.Options{Planner: interpret.NoPlanner(), State: h.state, Speaker: h.speaker})
	h.d.SetInterpreter(in)

	const utterance = "busca caño agregar item 1"
	res := in.Interpret(context.Background(), utterance)
	require.Equal(t, "search_phrase", res.Rule)

	report := h.d.Dispatch(context.Background(), utterance, res.Actions)
	require.True(t, report.Rerouted)
	require.Equal(t, []string{"cano"}, h.catalog.searches)

	cart := h.state.Cart()
	require.Len(t, cart, 1)
	require.Equal(t, "C12", cart[0].Code)
	require.Equal(t, 1, cart[0].Qty)
	require.Equal(t, []string{"Agregué 1 Caño 1/2."}, h.speaker.said)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		term     string
		literal  string
		command  string
		compound bool
	}{
		{term: "caño 3/4", literal: "caño 3/4"},
		{term: "ítem 2 cantidad 3", command: "ítem 2 cantidad 3", compound: true},
		{term: "cano agregar item 1", literal: "cano", command: "agregar item 1", compound: true},
		{term: "codo 90 cantidad 4", literal: "codo 90", command: "cantidad 4", compound: true},
	}
	for _, tc := range tests {
		literal, command, ok := splitCommand(tc.term)
		require.Equal(t, tc.compound, ok, tc.term)
		require.Equal(t, tc.literal, literal, tc.term)
		require.Equal(t, tc.command, command, tc.term)
	}
}

func TestSelectAndQuantityDoNotTouchCart(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "A", Qty: 1}, search.Item{Code: "B", Qty: 1}, search.Item{Code: "C", Qty: 1})

	report := h.d.Dispatch(context.Background(), "ítem 2 cantidad 3", []action.Action{
		action.New(action.SelectIndex, "index", 2),
		action.New(action.SetQty, "qty", 3),
	})
	require.Len(t, report.Executed, 2)
	require.Equal(t, 2, h.state.Selected())
	require.Equal(t, 3, h.state.Qty())
	require.Empty(t, h.state.Cart())
}

func TestSelectIndexOutOfRangeIsRejected(t *testing.T) {
	for _, idx := range []int{0, -1, 3} {
		h := newHarness(t)
		h.results(search.Item{Code: "A", Qty: 1}, search.Item{Code: "B", Qty: 1})
		h.d.Dispatch(context.Background(), "el 2", []action.Action{action.New(action.SetQty, "qty", 4)})

		report := h.d.Dispatch(context.Background(), "el item", []action.Action{action.New(action.SelectIndex, "index", idx)})
		require.Len(t, report.Rejected, 1, "index %d", idx)
		require.Equal(t, 1, h.state.Selected())
		require.Equal(t, 4, h.state.Qty())
	}
}

func TestAddItemOneCreatesOneLine(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "X", Name: "Caño", UOM: "Nos", Rate: 10, Qty: 3})

	report := h.d.Dispatch(context.Background(), "agregar ítem 1", []action.Action{
		action.New(action.SelectIndex, "index", 1),
		action.New(action.AddToCart),
	})
	require.Len(t, report.Executed, 2)

	cart := h.state.Cart()
	require.Len(t, cart, 1)
	require.Equal(t, "X", cart[0].Code)
	require.Equal(t, 1, cart[0].Qty)
	require.Equal(t, []string{"Agregué 1 Caño."}, h.speaker.said)
}

func TestRapidDuplicateAddIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "X", Name: "Caño", UOM: "Nos", Rate: 10, Qty: 3})
	batch := []action.Action{action.New(action.SelectIndex, "index", 1), action.New(action.AddToCart)}

	h.d.Dispatch(context.Background(), "agregar ítem 1", batch)
	h.now = h.now.Add(400 * time.Millisecond)
	second := h.d.Dispatch(context.Background(), "agregar ítem 1", batch)

	require.Len(t, second.Dropped, 1)
	require.Equal(t, errDuplicate.Error(), second.Dropped[0].Reason)
	require.Len(t, h.state.Cart(), 1)
	require.Equal(t, 1, h.state.Cart()[0].Qty)

	h.now = h.now.Add(time.Second)
	h.d.Dispatch(context.Background(), "agregar ítem 1", batch)
	cart := h.state.Cart()
	require.Len(t, cart, 1)
	require.Equal(t, 2, cart[0].Qty)
	require.InDelta(t, 20.0, cart[0].Subtotal, 1e-9)
}

func TestAddWithoutPhraseIsDroppedWithPrompt(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "X", Name: "Caño", Rate: 10, Qty: 3})

	report := h.d.Dispatch(context.Background(), "el uno", []action.Action{action.New(action.AddToCart)})
	require.Len(t, report.Dropped, 1)
	require.Empty(t, h.state.Cart())
	require.Equal(t, []string{"Para sumarlo al carrito decí agregar."}, h.speaker.said)
}

func TestAddWithoutResultsIsRejected(t *testing.T) {
	h := newHarness(t)
	report := h.d.Dispatch(context.Background(), "agregalo", []action.Action{action.New(action.AddToCart)})
	require.Len(t, report.Rejected, 1)
	require.Contains(t, report.Rejected[0].Reason, pos.ErrNoResults.Error())
}

func TestAddRefreshesPrice(t *testing.T) {
	h := newHarness(t)
	h.d.refreshPrices = true
	h.catalog.detail = bridge.ItemDetail{Code: "X", Rate: 12.5, UOM: "Unidad"}
	h.results(search.Item{Code: "X", Name: "Caño", UOM: "Nos", Rate: 10, Qty: 3})

	h.d.Dispatch(context.Background(), "agregar 2", []action.Action{action.New(action.SetQty, "qty", 2), action.New(action.AddToCart)})
	cart := h.state.Cart()
	require.Len(t, cart, 1)
	require.InDelta(t, 12.5, cart[0].Rate, 1e-9)
	require.InDelta(t, 25.0, cart[0].Subtotal, 1e-9)

	h.catalog.detailErr = errors.New("timeout")
	h.now = h.now.Add(time.Second)
	h.d.Dispatch(context.Background(), "agregar 2", []action.Action{action.New(action.AddToCart)})
	require.Len(t, h.state.Cart(), 2)
}

func TestConfirmNeverRunsWithoutPhrase(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "X", Rate: 10, Qty: 1})
	h.state.AddLine(search.Item{Code: "X", Rate: 10}, 1)

	report := h.d.Dispatch(context.Background(), "modo factura", []action.Action{
		action.New(action.SetMode, "mode", "FACTURA"),
		action.New(action.ConfirmDocument),
	})
	require.Empty(t, h.catalog.confirms)
	require.Nil(t, report.Confirm)
	require.Equal(t, pos.ModeInvoice, h.state.Mode())
	require.Len(t, h.state.Cart(), 1)
}

func TestConfirmPaymentRequiredKeepsCart(t *testing.T) {
	h := newHarness(t)
	h.state.SetMode(pos.ModeInvoice)
	h.state.AddLine(search.Item{Code: "X", Name: "Caño", UOM: "Nos", Rate: 10}, 2)
	h.catalog.confirmErr = &bridge.ConfirmError{
		Code:           bridge.CodePaymentRequired,
		Message:        "Seleccioná un medio de pago",
		PaymentMethods: []string{"Cash", "Credit Card"},
	}

	report := h.d.Dispatch(context.Background(), "confirmar", []action.Action{action.New(action.ConfirmDocument)})
	require.NotNil(t, report.Confirm)
	require.False(t, report.Confirm.OK)
	require.True(t, report.Confirm.PaymentRequired)
	require.Equal(t, []string{"Cash", "Credit Card"}, report.Confirm.Methods)
	require.Len(t, h.state.Cart(), 1)
	require.Equal(t, []string{"Cash", "Credit Card"}, h.state.PaymentMethods())
	require.Equal(t, []string{"Falta el medio de pago. Opciones: Cash, Credit Card."}, h.speaker.said)
}

func TestConfirmGenericFailureIsRejected(t *testing.T) {
	h := newHarness(t)
	h.state.AddLine(search.Item{Code: "X", Rate: 10}, 1)
	h.catalog.confirmErr = &bridge.ConfirmError{Code: "STOCK", Message: "sin stock"}

	report := h.d.Dispatch(context.Background(), "confirmar", []action.Action{action.New(action.ConfirmDocument)})
	require.Len(t, report.Rejected, 1)
	require.False(t, report.Confirm.PaymentRequired)
	require.Len(t, h.state.Cart(), 1)
}

func TestConfirmSuccessResetsState(t *testing.T) {
	h := newHarness(t)
	h.results(search.Item{Code: "X", Rate: 10, Qty: 1})
	h.state.SetDiscount(10)
	h.state.SetPayment("Cash")
	h.state.AddLine(search.Item{Code: "X", UOM: "Nos", Rate: 10}, 3)
	h.catalog.confirmRes = bridge.ConfirmResult{Number: "PRE-0001"}

	report := h.d.Dispatch(context.Background(), "cerrar venta", []action.Action{action.New(action.ConfirmDocument)})
	require.True(t, report.Confirm.OK)
	require.Equal(t, "PRE-0001", report.Confirm.Number)

	require.Len(t, h.catalog.confirms, 1)
	req := h.catalog.confirms[0]
	require.Equal(t, pos.ModeQuote, req.Mode)
	require.Equal(t, pos.DefaultCustomer, req.Customer)
	require.Len(t, req.Items, 1)
	require.Equal(t, []bridge.ConfirmPayment{{Method: "Cash", Amount: 27}}, req.Payments)

	require.Empty(t, h.state.Cart())
	require.Zero(t, h.state.Totals().DiscountPct)
	require.Equal(t, 1, h.state.Qty())
}

func TestConfirmEmptyCartIsRejected(t *testing.T) {
	h := newHarness(t)
	report := h.d.Dispatch(context.Background(), "confirmar", []action.Action{action.New(action.ConfirmDocument)})
	require.Len(t, report.Rejected, 1)
	require.Empty(t, h.catalog.confirms)
}

func TestSetModeInvoiceReloadsPaymentMethods(t *testing.T) {
	h := newHarness(t)
	h.state.SetPayment("Cash")

	h.d.Dispatch(context.Background(), "modo factura", []action.Action{action.New(action.SetMode, "mode", "factura")})
	require.Equal(t, pos.ModeInvoice, h.state.Mode())
	require.Empty(t, h.state.Payment())
	require.Equal(t, 1, h.catalog.methodCalls)
	require.Equal(t, []string{"Cash", "Bank Draft"}, h.state.PaymentMethods())

	report := h.d.Dispatch(context.Background(), "modo ticket", []action.Action{action.New(action.SetMode, "mode", "ticket")})
	require.Len(t, report.Dropped, 1)
	require.Equal(t, pos.ModeInvoice, h.state.Mode())
}

func TestSetPaymentCanonicalizesAndLoadsMethods(t *testing.T) {
	h := newHarness(t)
	h.d.Dispatch(context.Background(), "pago en efectivo", []action.Action{action.New(action.SetPayment, "mop", "efectivo")})
	require.Equal(t, "Cash", h.state.Payment())
	require.Equal(t, 1, h.catalog.methodCalls)

	h.d.Dispatch(context.Background(), "pago con tarjeta de crédito", []action.Action{action.New(action.SetPayment, "mop", "tarjeta de crédito")})
	require.Equal(t, "Credit Card", h.state.Payment())
	require.Equal(t, 1, h.catalog.methodCalls)
}

func TestCartMaintenance(t *testing.T) {
	h := newHarness(t)
	h.state.AddLine(search.Item{Code: "A", Name: "Codo PVC", Rate: 5}, 1)
	h.state.AddLine(search.Item{Code: "B", Name: "Caño termofusión", Rate: 10}, 1)
	h.state.AddLine(search.Item{Code: "C", Name: "Teflón", Rate: 2}, 1)

	h.d.Dispatch(context.Background(), "sacá el 1 del carrito", []action.Action{action.New(action.RemoveFromCart, "index", 1)})
	require.Len(t, h.state.Cart(), 2)

	h.d.Dispatch(context.Background(), "sacá el cano termofusion del carrito", []action.Action{action.New(action.RemoveFromCart, "name", "cano termofusion")})
	require.Len(t, h.state.Cart(), 1)

	h.d.Dispatch(context.Background(), "borrá el último del carrito", []action.Action{action.New(action.RemoveLastItem)})
	require.Empty(t, h.state.Cart())

	report := h.d.Dispatch(context.Background(), "vaciá el carrito", []action.Action{action.New(action.ClearCart)})
	require.Len(t, report.Rejected, 1)
	require.Equal(t, pos.ErrNothingToDo.Error(), report.Rejected[0].Reason)
}

func TestDiscountCustomerAndRepeat(t *testing.T) {
	h := newHarness(t)
	h.state.AddLine(search.Item{Code: "A", Rate: 100}, 2)

	report := h.d.Dispatch(context.Background(), "descuento 150 cliente", []action.Action{
		action.New(action.SetGlobalDiscount, "pct", 150),
		action.New(action.SetCustomer, "name", "   "),
		action.New(action.Repeat),
	})
	require.Len(t, report.Rejected, 1)
	require.Equal(t, float64(100), h.state.Totals().DiscountPct)
	require.Equal(t, pos.DefaultCustomer, h.state.Customer())

	h.d.Dispatch(context.Background(), "descuento 10", []action.Action{action.New(action.SetGlobalDiscount, "pct", 10), action.New(action.Repeat)})
	require.Equal(t, "Total 180.00 con 10% de descuento, 1 línea.", h.speaker.said[len(h.speaker.said)-1])
}

func TestUnknownActionsAreDropped(t *testing.T) {
	h := newHarness(t)
	report := h.d.Dispatch(context.Background(), "hola", []action.Action{{Name: "ask_user", Params: action.Params{}}})
	require.Len(t, report.Dropped, 1)
	require.Empty(t, report.Executed)
}

func TestFeedReceivesDispatchEvents(t *testing.T) {
	h := newHarness(t)
	sub := h.hub.Subscribe()
	h.d.Dispatch(context.Background(), "listo", []action.Action{action.New(action.ConfirmDocument)})

	var kinds []string
	for len(sub.C) > 0 {
		kinds = append(kinds, (<-sub.C).Kind)
	}
	require.Equal(t, []string{feed.KindDropped, feed.KindSpeak}, kinds)
}
