package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StudentSubmission stores metadata about a case analysis uploaded by a
// student for an Assignment. The actual file resides in object storage.
type StudentSubmission struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AssignmentID     primitive.ObjectID `bson:"assignmentId" json:"assignmentId"`
	StudentID        primitive.ObjectID `bson:"studentId" json:"studentId"`
	Filename         string             `bson:"filename" json:"filename"`
	MimeType         string             `bson:"mimetype" json:"mimetype"`
	Size             int64              `bson:"size" json:"size"`
	ObjectKey        string             `bson:"objectKey" json:"-"`
	UploadedAt       time.Time          `bson:"uploadedAt" json:"uploadedAt"`
	Summary          string             `bson:"summary,omitempty" json:"summary,omitempty"`
	SummaryModel     string             `bson:"summaryModel,omitempty" json:"summaryModel,omitempty"`
	SummaryUpdatedAt *time.Time         `bson:"summaryUpdatedAt,omitempty" json:"summaryUpdatedAt,omitempty"`

	// NextPromptIndex points into Assignment.SortedPrompts(): the next
	// lecturer prompt to play into the conversation.
	NextPromptIndex int `bson:"nextPromptIndex" json:"nextPromptIndex"`
}

// SetSummary records a generated summary and the model that produced it.
func (s *StudentSubmission) SetSummary(text, model string, at time.Time) {
	s.Summary = text
	s.SummaryModel = model
	s.SummaryUpdatedAt = &at
}
