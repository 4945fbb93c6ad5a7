package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rbright/posvoice/internal/action"
	"github.com/rbright/posvoice/internal/bridge"
	"github.com/rbright/posvoice/internal/pos"
)

// ErrNoPlanner is returned when no remote planner is configured.
var ErrNoPlanner = errors.New("no planner configured")

// Request is the planner payload: utterance, state view and allowed actions.
type Request struct {
	Text    string       `json:"text"`
	State   pos.Snapshot `json:"state"`
	Catalog []string     `json:"catalog"`
}

// Planner turns a request into candidate actions.
type Planner interface {
	Plan(ctx context.Context, req Request) ([]action.Candidate, error)
}

type nonePlanner struct{}

func (nonePlanner) Plan(context.Context, Request) ([]action.Candidate, error) {
	return nil, ErrNoPlanner
}

// NoPlanner always fails so every utterance takes the local rules.
func NoPlanner() Planner { return nonePlanner{} }

// BridgePlanner posts requests to the bridge-hosted interpreter.
type BridgePlanner struct {
	Client *bridge.Client
	Path   string
}

func (p BridgePlanner) Plan(ctx context.Context, req Request) ([]action.Candidate, error) {
	return p.Client.Interpret(ctx, p.Path, bridge.InterpretRequest{
		Text:    req.Text,
		State:   req.State,
		Catalog: req.Catalog,
	})
}

const systemPrompt = `Sos el intérprete de comandos de voz de un punto de venta.
Recibís {text, state, catalog} y devolvés SOLO un objeto JSON {"actions":[{"action":..., "params":{...}}]}.
Reglas:
- Usá únicamente acciones del catálogo. Si no entendés, devolvé {"actions":[]}.
- Los números dichos en palabras son dígitos ("tres" es 3). Los índices son 1-based y se refieren a state.results.
- "ítem N agregar Q" es select_index(N), set_qty(Q), add_to_cart().
- "cantidad Q" fija cantidad sin agregar al carrito.
- Buscar productos: search({term}). No inventes códigos de artículo.
- "borrá el último del carrito" es remove_last_item(); "sacá el N del carrito" es remove_from_cart({index:N}); "sacá <nombre> del carrito" es remove_from_cart({name}).
- Pagos: set_payment({mop}) con Cash, Bank Draft, Credit Card o Debit Card.
- Modos: set_mode({mode}) con PRESUPUESTO, FACTURA o REMITO.
- Solo usá confirm_document si el usuario pide confirmar o cerrar la venta.
- No respondas texto fuera del JSON.`

// ChatCompleter is the subset of the OpenAI client used by OpenAIPlanner.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIPlanner calls a chat completion model directly.
type OpenAIPlanner struct {
	Client ChatCompleter
	Model  string
}

// NewOpenAIPlanner builds a planner using the given key and model. An empty
// baseURL keeps the library default.
func NewOpenAIPlanner(apiKey string, model string, baseURL string) OpenAIPlanner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAIPlanner{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (p OpenAIPlanner) Plan(ctx context.Context, req Request) ([]action.Candidate, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode planner input: %w", err)
	}

	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.Model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "INPUT:\n" + string(payload)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return parseActions(resp.Choices[0].Message.Content)
}

func parseActions(content string) ([]action.Candidate, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out struct {
		Actions []action.Candidate `json:"actions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("decode planner reply: %w", err)
	}
	return out.Actions, nil
}
