package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
)

var (
	ErrUnsupportedModel = llm.ErrUnsupportedModel
	ErrEmptyMessage     = errors.New("message cannot be empty")
)

// ConversationError wraps a failed chat turn. Turns are never retried.
type ConversationError struct {
	Model string
	Err   error
}

func (e *ConversationError) Error() string {
	return fmt.Sprintf("chat with %s failed: %v", e.Model, e.Err)
}

func (e *ConversationError) Unwrap() error { return e.Err }

// ChatResult is a normalized assistant reply.
type ChatResult struct {
	Text             string
	Model            string
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// Client sends chat turns through an llm.Provider.
type Client struct {
	provider llm.Provider
	log      *logger.Logger
}

func NewClient(provider llm.Provider, log *logger.Logger) *Client {
	return &Client{provider: provider, log: log.With("service", "Chat")}
}

// Send submits messages to modelID once. The last message must be a
// non-blank user turn.
func (c *Client) Send(ctx context.Context, messages []llm.Message, modelID string) (ChatResult, error) {
	if err := llm.CheckModel(modelID); err != nil {
		return ChatResult{}, err
	}
	if len(messages) == 0 {
		return ChatResult{}, ErrEmptyMessage
	}
	last := messages[len(messages)-1]
	if last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return ChatResult{}, ErrEmptyMessage
	}

	temp := 0.4
	gen, err := c.provider.Generate(ctx, llm.Request{
		Model:       modelID,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   600,
	})
	if err != nil {
		c.log.Warn("Chat turn failed", "model", modelID, "error", err.Error())
		return ChatResult{}, &ConversationError{Model: modelID, Err: err}
	}
	return ChatResult{
		Text:             gen.Text,
		Model:            modelID,
		PromptTokens:     gen.Usage.PromptTokens,
		CompletionTokens: gen.Usage.CompletionTokens,
		TotalTokens:      gen.Usage.TotalTokens,
	}, nil
}

// RespondInput describes one student turn on a submission.
type RespondInput struct {
	Assignment             *domain.Assignment
	Submission             *domain.StudentSubmission
	History                []domain.Message
	UserMessage            string
	Model                  string
	IncludeLecturerSummary bool
	IncludeStudentSummary  bool
}

// Respond validates the turn, builds the context and sends it.
func (c *Client) Respond(ctx context.Context, in RespondInput) (ChatResult, error) {
	if err := llm.CheckModel(in.Model); err != nil {
		return ChatResult{}, err
	}
	if strings.TrimSpace(in.UserMessage) == "" {
		return ChatResult{}, ErrEmptyMessage
	}

	bi := BuildInput{
		History:                in.History,
		UserMessage:            in.UserMessage,
		IncludeLecturerSummary: in.IncludeLecturerSummary,
		IncludeStudentSummary:  in.IncludeStudentSummary,
	}
	if in.Assignment != nil {
		bi.LecturerSummary = in.Assignment.LecturerSummary()
	}
	if in.Submission != nil {
		bi.StudentSummary = in.Submission.Summary
	}
	return c.Send(ctx, Build(bi), in.Model)
}
