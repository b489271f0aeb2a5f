// Package summarize produces short summaries of course documents.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dialoque/server/internal/extract"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
)

// MaxInputChars bounds the text forwarded to the model; longer input is cut.
const MaxInputChars = 6000

const systemPrompt = "You summarise PDF course materials for Vrije Universiteit Amsterdam. " +
	"Return a clear, plain-language paragraph (<= 200 words) suitable for lecturers."

var (
	// ErrUnsupportedModel is llm.ErrUnsupportedModel, re-exported for callers.
	ErrUnsupportedModel = llm.ErrUnsupportedModel
	ErrExtraction       = errors.New("could not extract text from the document")
)

// ProviderError wraps any failure of the generation backend.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("summary with %s failed: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Result is a generated summary.
type Result struct {
	Text  string
	Model string
	Usage llm.Usage
}

// Client summarizes text through an llm.Provider.
type Client struct {
	provider llm.Provider
	log      *logger.Logger
}

func NewClient(provider llm.Provider, log *logger.Logger) *Client {
	return &Client{provider: provider, log: log.With("service", "Summarizer")}
}

// Summarize returns a summary of text produced by modelID.
func (c *Client) Summarize(ctx context.Context, text, modelID string) (Result, error) {
	if err := llm.CheckModel(modelID); err != nil {
		return Result{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrExtraction
	}

	temp := 0.2
	gen, err := c.provider.Generate(ctx, llm.Request{
		Model: modelID,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: truncate(text, MaxInputChars)},
		},
		Temperature: &temp,
		MaxTokens:   400,
	})
	if err != nil {
		c.log.Warn("Summary generation failed", "model", modelID, "error", err.Error())
		return Result{}, &ProviderError{Model: modelID, Err: err}
	}
	return Result{Text: gen.Text, Model: modelID, Usage: gen.Usage}, nil
}

// SummarizeDocument extracts text from content and summarizes it.
func (c *Client) SummarizeDocument(ctx context.Context, content []byte, modelID string) (Result, error) {
	if err := llm.CheckModel(modelID); err != nil {
		return Result{}, err
	}
	return c.Summarize(ctx, extract.Text(content), modelID)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
