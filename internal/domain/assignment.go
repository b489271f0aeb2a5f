package domain

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocumentSlots is the fixed number of document positions per assignment.
const DocumentSlots = 4

// LecturerBriefSlot is the slot whose summary seeds student conversations.
const LecturerBriefSlot = 1

// Assignment is the lecturer-owned unit students submit case analyses for.
// Documents and prompts are embedded so an assignment is created and removed
// as a single MongoDB document.
type Assignment struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title       string               `bson:"title" json:"title"`
	Description string               `bson:"description,omitempty" json:"description,omitempty"`
	Documents   []AssignmentDocument `bson:"documents" json:"documents"`
	Prompts     []AssignmentPrompt   `bson:"prompts" json:"prompts"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// AssignmentDocument is one of the four lecturer documents. The binary
// content lives in object storage under ObjectKey.
type AssignmentDocument struct {
	ID               primitive.ObjectID `bson:"_id" json:"id"`
	Slot             int                `bson:"slot" json:"slot"` // 1-4, unique within the assignment
	Label            string             `bson:"label" json:"label"`
	Filename         string             `bson:"filename" json:"filename"`
	MimeType         string             `bson:"mimetype" json:"mimetype"`
	Size             int64              `bson:"size" json:"size"`
	ObjectKey        string             `bson:"objectKey" json:"-"`
	UploadedAt       time.Time          `bson:"uploadedAt" json:"uploadedAt"`
	Summary          string             `bson:"summary,omitempty" json:"summary,omitempty"`
	SummaryModel     string             `bson:"summaryModel,omitempty" json:"summaryModel,omitempty"`
	SummaryUpdatedAt *time.Time         `bson:"summaryUpdatedAt,omitempty" json:"summaryUpdatedAt,omitempty"`
}

// AssignmentPrompt is lecturer guidance played into student conversations.
type AssignmentPrompt struct {
	ID              primitive.ObjectID `bson:"_id" json:"id"`
	Title           string             `bson:"title" json:"title"`
	PromptText      string             `bson:"promptText" json:"promptText"`
	ExampleResponse string             `bson:"exampleResponse,omitempty" json:"exampleResponse,omitempty"`
	DisplayOrder    int                `bson:"displayOrder" json:"displayOrder"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}

// Document returns the document stored in slot, or nil.
func (a *Assignment) Document(slot int) *AssignmentDocument {
	for i := range a.Documents {
		if a.Documents[i].Slot == slot {
			return &a.Documents[i]
		}
	}
	return nil
}

// LecturerBrief returns the slot 1 document, or nil when missing.
func (a *Assignment) LecturerBrief() *AssignmentDocument {
	return a.Document(LecturerBriefSlot)
}

// LecturerSummary is the trimmed slot 1 summary ("" when absent).
func (a *Assignment) LecturerSummary() string {
	if doc := a.LecturerBrief(); doc != nil {
		return strings.TrimSpace(doc.Summary)
	}
	return ""
}

// IsComplete is true only when every slot 1..DocumentSlots is populated.
func (a *Assignment) IsComplete() bool {
	for slot := 1; slot <= DocumentSlots; slot++ {
		if a.Document(slot) == nil {
			return false
		}
	}
	return true
}

// Prompt returns the prompt with id, or nil.
func (a *Assignment) Prompt(id primitive.ObjectID) *AssignmentPrompt {
	for i := range a.Prompts {
		if a.Prompts[i].ID == id {
			return &a.Prompts[i]
		}
	}
	return nil
}

// SortedPrompts returns a copy of the prompts ordered by display order, ties
// broken by id (ObjectIDs increase with insertion).
func (a *Assignment) SortedPrompts() []AssignmentPrompt {
	out := make([]AssignmentPrompt, len(a.Prompts))
	copy(out, a.Prompts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
