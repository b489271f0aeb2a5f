// Package llm talks to OpenAI-compatible text generation backends.
//
// Two request/response shapes exist in the wild (the Responses API and the
// older Chat Completions API). Each has its own Provider implementation and
// the one to use is chosen from configuration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dialoque/server/internal/logger"
)

// Errors shared by every provider.
var (
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrMissingAPIKey    = errors.New("OPENAI_API_KEY is not configured")
	ErrEmptyOutput      = errors.New("response did not contain text output")
)

// Chat roles understood by the backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// API styles accepted by NewProvider.
const (
	StyleResponses       = "responses"
	StyleChatCompletions = "chat_completions"
)

// Model is an allow-listed generation model.
type Model struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Models is the fixed allow-list forwarded to the provider.
var Models = []Model{
	{ID: "gpt-3.5-turbo", Label: "GPT-3.5 Turbo"},
	{ID: "gpt-4o-mini", Label: "GPT-4o Mini"},
	{ID: "gpt-5", Label: "GPT-5"},
}

// DefaultSummaryModel is preselected for lecturer summaries.
var DefaultSummaryModel = Models[0].ID

// DefaultChatModel powers student conversations.
var DefaultChatModel = Models[len(Models)-1].ID

// IsSupported reports whether id is in the allow-list.
func IsSupported(id string) bool {
	for _, m := range Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// CheckModel returns a wrapped ErrUnsupportedModel for unknown ids.
func CheckModel(id string) error {
	if !IsSupported(id) {
		return fmt.Errorf("%w '%s'", ErrUnsupportedModel, id)
	}
	return nil
}

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call.
type Request struct {
	Model    string
	Messages []Message
	// Only the Chat Completions shape forwards these.
	Temperature *float64
	MaxTokens   int
}

// Usage carries token counts; any of them may be absent.
type Usage struct {
	PromptTokens     *int `json:"promptTokens,omitempty"`
	CompletionTokens *int `json:"completionTokens,omitempty"`
	TotalTokens      *int `json:"totalTokens,omitempty"`
}

// Generation is the normalized provider reply.
type Generation struct {
	Text  string
	Usage Usage
}

// Provider generates text from a message list. Implementations make exactly
// one HTTP call per Generate and never retry.
type Provider interface {
	Generate(ctx context.Context, req Request) (Generation, error)
}

// Config configures a Provider.
type Config struct {
	APIKey   string
	BaseURL  string
	APIStyle string
	// HTTPClient defaults to a client without timeout: calls block until the
	// backend answers or the transport fails.
	HTTPClient *http.Client
}

// NewProvider returns the Provider for cfg.APIStyle. A missing API key is
// not an error here; Generate reports it before any network call.
func NewProvider(cfg Config, log *logger.Logger) (Provider, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	t := transport{
		log:        log,
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: hc,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.APIStyle)) {
	case "", StyleResponses:
		t.log = log.With("service", "ResponsesProvider")
		return &ResponsesProvider{t: t}, nil
	case StyleChatCompletions:
		t.log = log.With("service", "ChatCompletionsProvider")
		return &ChatCompletionsProvider{t: t}, nil
	default:
		return nil, fmt.Errorf("unknown openai api style %q", cfg.APIStyle)
	}
}

// HTTPError is a non-2xx reply from the backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, body)
}

// usageOf passes reported counts through unchanged; a field the backend
// left out stays nil.
func usageOf(prompt, completion, total *int) Usage {
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
