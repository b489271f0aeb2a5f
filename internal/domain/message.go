package domain

import (
	"bytes"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageRole identifies who authored a conversation message.
type MessageRole string

const (
	MessageRoleStudent   MessageRole = "student"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleLecturer  MessageRole = "lecturer"
)

// StudentContext records the context toggles a student sent a turn with.
type StudentContext struct {
	IncludeLecturerSummary bool `bson:"includeLecturerSummary" json:"includeLecturerSummary"`
	IncludeStudentSummary  bool `bson:"includeStudentSummary" json:"includeStudentSummary"`
}

// AssistantContext records how an assistant reply was produced.
type AssistantContext struct {
	IncludeLecturerSummary bool `bson:"includeLecturerSummary" json:"includeLecturerSummary"`
	IncludeStudentSummary  bool `bson:"includeStudentSummary" json:"includeStudentSummary"`
	PromptTokens           *int `bson:"promptTokens,omitempty" json:"promptTokens,omitempty"`
	CompletionTokens       *int `bson:"completionTokens,omitempty" json:"completionTokens,omitempty"`
	TotalTokens            *int `bson:"totalTokens,omitempty" json:"totalTokens,omitempty"`
}

// LecturerContext links a lecturer message to the prompt it was played from.
type LecturerContext struct {
	PromptID        primitive.ObjectID `bson:"promptId" json:"promptId"`
	PromptTitle     string             `bson:"promptTitle,omitempty" json:"promptTitle,omitempty"`
	ExampleResponse string             `bson:"exampleResponse,omitempty" json:"exampleResponse,omitempty"`
}

// Message is one entry of a submission conversation. Exactly one of the
// role payloads is set, matching Role; use the New*Message constructors.
type Message struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SubmissionID primitive.ObjectID `bson:"submissionId" json:"submissionId"`
	Role         MessageRole        `bson:"role" json:"role"`
	Content      string             `bson:"content" json:"content"`
	Model        string             `bson:"model,omitempty" json:"model,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`

	Student   *StudentContext   `bson:"student,omitempty" json:"student,omitempty"`
	Assistant *AssistantContext `bson:"assistant,omitempty" json:"assistant,omitempty"`
	Lecturer  *LecturerContext  `bson:"lecturer,omitempty" json:"lecturer,omitempty"`
}

func NewStudentMessage(submissionID primitive.ObjectID, content, model string, ctx StudentContext) *Message {
	return &Message{
		SubmissionID: submissionID,
		Role:         MessageRoleStudent,
		Content:      content,
		Model:        model,
		Student:      &ctx,
	}
}

func NewAssistantMessage(submissionID primitive.ObjectID, content, model string, ctx AssistantContext) *Message {
	return &Message{
		SubmissionID: submissionID,
		Role:         MessageRoleAssistant,
		Content:      content,
		Model:        model,
		Assistant:    &ctx,
	}
}

// NewLecturerMessage plays prompt p into a submission conversation.
func NewLecturerMessage(submissionID primitive.ObjectID, p AssignmentPrompt) *Message {
	return &Message{
		SubmissionID: submissionID,
		Role:         MessageRoleLecturer,
		Content:      p.PromptText,
		Lecturer: &LecturerContext{
			PromptID:        p.ID,
			PromptTitle:     p.Title,
			ExampleResponse: p.ExampleResponse,
		},
	}
}

// SortMessages orders messages by (UTC timestamp, id) ascending. Zero
// timestamps sort first.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].CreatedAt.UTC(), msgs[j].CreatedAt.UTC()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return bytes.Compare(msgs[i].ID[:], msgs[j].ID[:]) < 0
	})
}
