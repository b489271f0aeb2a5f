// Package conversation turns a submission transcript into provider chat
// requests and runs student chat turns.
package conversation

import (
	"strings"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
)

const persona = "You are DiaLoque, an academic teaching assistant helping VU students analyse AI mobility " +
	"assignments. Maintain a supportive tone, encourage reflection, and reference the provided " +
	"context. Cite insights from lecturer guidance or the student's own analysis when relevant."

// BuildInput is everything Build needs to assemble a request.
type BuildInput struct {
	LecturerSummary        string
	StudentSummary         string
	History                []domain.Message
	UserMessage            string
	IncludeLecturerSummary bool
	IncludeStudentSummary  bool
	// MaxHistory keeps only the most recent entries when > 0.
	MaxHistory int
}

// Build returns the ordered chat messages for one turn:
// persona, optional lecturer summary, optional student summary, history
// sorted by (timestamp, id), then the new user message.
func Build(in BuildInput) []llm.Message {
	msgs := make([]llm.Message, 0, len(in.History)+4)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: persona})

	if in.IncludeLecturerSummary {
		if s := strings.TrimSpace(in.LecturerSummary); s != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: "Lecturer summary for this assignment:\n" + s})
		}
	}
	if in.IncludeStudentSummary {
		if s := strings.TrimSpace(in.StudentSummary); s != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: "Student's submitted summary:\n" + s})
		}
	}

	history := make([]domain.Message, len(in.History))
	copy(history, in.History)
	domain.SortMessages(history)
	if in.MaxHistory > 0 && len(history) > in.MaxHistory {
		history = history[len(history)-in.MaxHistory:]
	}
	for _, m := range history {
		switch m.Role {
		case domain.MessageRoleStudent:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case domain.MessageRoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case domain.MessageRoleLecturer:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: LecturerTurn(m)})
		}
	}

	if text := strings.TrimSpace(in.UserMessage); text != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
	}
	return msgs
}

// LecturerTurn renders a played lecturer prompt as system text.
func LecturerTurn(m domain.Message) string {
	var title, example string
	if m.Lecturer != nil {
		title = m.Lecturer.PromptTitle
		example = strings.TrimSpace(m.Lecturer.ExampleResponse)
	}
	content := strings.TrimSpace(m.Content)

	var b strings.Builder
	if title != "" {
		b.WriteString("Lecturer prompt (" + title + "):\n")
	} else {
		b.WriteString("Lecturer prompt:\n")
	}
	b.WriteString(content)
	if example != "" {
		b.WriteString("\n\nExample assistant reply previously shared by the lecturer:\n")
		b.WriteString(example)
	}
	return b.String()
}
