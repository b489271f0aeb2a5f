package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dialoque/server/internal/logger"
)

type transport struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// postJSON sends body to path once and decodes a 2xx reply into out.
func (t *transport) postJSON(ctx context.Context, path, model string, body, out any) error {
	if t.apiKey == "" {
		return ErrMissingAPIKey
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.log.Warn("OpenAI request failed", "path", path, "model", model, "took", since(start), "error", err.Error())
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.log.Warn("OpenAI request rejected", "path", path, "model", model, "status", resp.StatusCode, "took", since(start))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	t.log.Debug("OpenAI request done", "path", path, "model", model, "status", resp.StatusCode, "took", since(start))

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai decode error: %w", err)
	}
	return nil
}
