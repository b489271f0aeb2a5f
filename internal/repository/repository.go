package repository

import (
	"context"
	"time"

	"dialoque/server/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrDuplicate    = RepositoryError("duplicate key")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrDeleteFailed = RepositoryError("delete failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// Transactor runs fn as one unit of work. Repository calls made with the
// ctx handed to fn take part in the transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository defines the interface for interacting with user data.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	SetRole(ctx context.Context, id primitive.ObjectID, role domain.Role) error
	SetActive(ctx context.Context, id primitive.ObjectID, active bool) error
	// UpdateProfile writes names, email and password hash. An empty email
	// removes the field.
	UpdateProfile(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// AssignmentRepository stores assignments with their embedded documents and
// prompts.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *domain.Assignment) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Assignment, error)
	List(ctx context.Context) ([]domain.Assignment, error) // Newest first
	// Update replaces title, description and documents.
	Update(ctx context.Context, assignment *domain.Assignment) error
	Delete(ctx context.Context, id primitive.ObjectID) error

	SetDocumentSummary(ctx context.Context, id primitive.ObjectID, slot int, summary, model string, at time.Time) error
	AddPrompt(ctx context.Context, id primitive.ObjectID, prompt *domain.AssignmentPrompt) error
	UpdatePrompt(ctx context.Context, id primitive.ObjectID, prompt *domain.AssignmentPrompt) error
	DeletePrompt(ctx context.Context, id, promptID primitive.ObjectID) error
}

// SubmissionRepository stores student submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *domain.StudentSubmission) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.StudentSubmission, error)
	// ListByAssignment returns newest first; a zero studentID lists every student.
	ListByAssignment(ctx context.Context, assignmentID, studentID primitive.ObjectID) ([]domain.StudentSubmission, error)
	DeleteByAssignment(ctx context.Context, assignmentID primitive.ObjectID) error
	SetSummary(ctx context.Context, id primitive.ObjectID, summary, model string, at time.Time) error

	// AdvancePromptCursor moves nextPromptIndex from expected to expected+1.
	// It reports false when the stored cursor no longer equals expected.
	AdvancePromptCursor(ctx context.Context, id primitive.ObjectID, expected int) (bool, error)
	ResetPromptCursor(ctx context.Context, id primitive.ObjectID) error
}

// MessageRepository stores submission conversation messages.
type MessageRepository interface {
	// ListBySubmission returns messages ordered by (createdAt, _id).
	ListBySubmission(ctx context.Context, submissionID primitive.ObjectID) ([]domain.Message, error)
	Create(ctx context.Context, msg *domain.Message) error
	// CreateMany assigns ids and timestamps in slice order.
	CreateMany(ctx context.Context, msgs []*domain.Message) error
	DeleteBySubmission(ctx context.Context, submissionID primitive.ObjectID) error
	DeleteBySubmissions(ctx context.Context, submissionIDs []primitive.ObjectID) error
}
