package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// ResponsesProvider talks to POST /v1/responses.
type ResponsesProvider struct {
	t transport
}

type responsesRequest struct {
	Model string    `json:"model"`
	Input []Message `json:"input"`
}

type responsesResponse struct {
	OutputText string `json:"output_text,omitempty"`
	Output     []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string          `json:"type"`
			Text json.RawMessage `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
		TotalTokens  *int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func (p *ResponsesProvider) Generate(ctx context.Context, req Request) (Generation, error) {
	body := responsesRequest{Model: req.Model, Input: req.Messages}

	var resp responsesResponse
	if err := p.t.postJSON(ctx, "/v1/responses", req.Model, body, &resp); err != nil {
		return Generation{}, err
	}

	text := strings.TrimSpace(extractResponsesText(resp))
	if text == "" {
		return Generation{}, ErrEmptyOutput
	}
	gen := Generation{Text: text}
	if resp.Usage != nil {
		gen.Usage = usageOf(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens)
	}
	return gen, nil
}

// extractResponsesText prefers the aggregated output_text field and falls
// back to the first non-empty text part of the nested output list.
func extractResponsesText(resp responsesResponse) string {
	if strings.TrimSpace(resp.OutputText) != "" {
		return resp.OutputText
	}
	for _, item := range resp.Output {
		for _, c := range item.Content {
			if c.Type != "output_text" && c.Type != "text" {
				continue
			}
			if v := textValue(c.Text); strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

// textValue accepts "text": "..." and "text": {"value": "..."}.
func textValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return ""
}
