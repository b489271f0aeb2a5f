package llm

import (
	"context"
	"strings"
)

// ChatCompletionsProvider talks to the older POST /v1/chat/completions.
type ChatCompletionsProvider struct {
	t transport
}

type chatCompletionsRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
		TotalTokens      *int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func (p *ChatCompletionsProvider) Generate(ctx context.Context, req Request) (Generation, error) {
	body := chatCompletionsRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatCompletionsResponse
	if err := p.t.postJSON(ctx, "/v1/chat/completions", req.Model, body, &resp); err != nil {
		return Generation{}, err
	}
	if len(resp.Choices) == 0 {
		return Generation{}, ErrEmptyOutput
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Generation{}, ErrEmptyOutput
	}
	gen := Generation{Text: text}
	if resp.Usage != nil {
		gen.Usage = usageOf(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
	return gen, nil
}
