package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialoque/server/internal/conversation"
	"dialoque/server/internal/domain"
	"dialoque/server/internal/export"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/repository"
	"dialoque/server/internal/session"
	"dialoque/server/internal/storage"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrNoActiveAssignment = errors.New("select an assignment before uploading your case analysis")
	ErrEmptyFile          = errors.New("uploaded file is empty")
)

const defaultSubmissionFilename = "case-analysis.pdf"

// ChatResponder answers one student turn.
type ChatResponder interface {
	Respond(ctx context.Context, in conversation.RespondInput) (conversation.ChatResult, error)
}

// TranscriptExporter renders a conversation document.
type TranscriptExporter interface {
	Build(t export.Transcript) ([]byte, error)
}

type UploadInput struct {
	// AssignmentID defaults to the session's active assignment.
	AssignmentID string
	Model        string
	File         FileUpload
}

// UploadResult carries the stored submission. Warning is set when the
// summary could not be produced; the submission is kept regardless.
type UploadResult struct {
	Submission *domain.StudentSubmission
	Warning    string
	State      session.WizardState
}

// Dashboard is everything the student wizard shows for one stage.
type Dashboard struct {
	State            session.WizardState
	Stage            int
	Assignments      []domain.Assignment
	ActiveAssignment *domain.Assignment
	LecturerBrief    *domain.AssignmentDocument
	Submissions      []domain.StudentSubmission
	Prompts          []domain.AssignmentPrompt
	ActiveSubmission *domain.StudentSubmission
	Messages         []domain.Message
}

type SendMessageInput struct {
	SubmissionID           string
	Text                   string
	IncludeLecturerSummary bool
	IncludeStudentSummary  bool
}

// ChatTurn is a completed exchange plus the transcript after it.
type ChatTurn struct {
	Student   *domain.Message
	Assistant *domain.Message
	Messages  []domain.Message
	State     session.WizardState
}

type ExportFile struct {
	Filename string
	Content  []byte
}

// StudentService drives the select, upload, review and chat wizard. Wizard
// state is passed in and returned; callers persist it.
type StudentService interface {
	ListAssignments(ctx context.Context) ([]domain.Assignment, error)
	Select(ctx context.Context, state session.WizardState, assignmentID string) (session.WizardState, error)
	Upload(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, in UploadInput) (*UploadResult, error)
	// Dashboard recomputes the stage from requestedStage (0 keeps the stored
	// stage) and plays the next lecturer prompt on chat visits.
	Dashboard(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, requestedStage int) (*Dashboard, error)
	SendMessage(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, in SendMessageInput) (*ChatTurn, error)
	Restart(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, submissionID string) (session.WizardState, error)
	Export(ctx context.Context, studentID primitive.ObjectID, submissionID string) (*ExportFile, error)
	DownloadSubmission(ctx context.Context, studentID primitive.ObjectID, submissionID string) (*FileDownload, error)
}

type studentService struct {
	assignmentRepo repository.AssignmentRepository
	submissionRepo repository.SubmissionRepository
	messageRepo    repository.MessageRepository
	tx             repository.Transactor
	files          storage.FileStorage
	summarizer     Summarizer
	chat           ChatResponder
	exporter       TranscriptExporter
	chatModel      string
	log            *logger.Logger
}

func NewStudentService(
	assignmentRepo repository.AssignmentRepository,
	submissionRepo repository.SubmissionRepository,
	messageRepo repository.MessageRepository,
	tx repository.Transactor,
	files storage.FileStorage,
	summarizer Summarizer,
	chat ChatResponder,
	exporter TranscriptExporter,
	log *logger.Logger,
) StudentService {
	return &studentService{
		assignmentRepo: assignmentRepo,
		submissionRepo: submissionRepo,
		messageRepo:    messageRepo,
		tx:             tx,
		files:          files,
		summarizer:     summarizer,
		chat:           chat,
		exporter:       exporter,
		chatModel:      llm.DefaultChatModel,
		log:            log.With("service", "StudentService"),
	}
}

func (s *studentService) ListAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return s.assignmentRepo.List(ctx)
}

func (s *studentService) Select(ctx context.Context, state session.WizardState, assignmentID string) (session.WizardState, error) {
	assignment, err := s.getAssignment(ctx, assignmentID)
	if err != nil {
		return state, err
	}
	state.ActiveAssignmentID = assignment.ID
	state.ActiveAssignmentTitle = assignment.Title
	state.Stage = session.StageUpload
	return state, nil
}

func (s *studentService) Upload(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, in UploadInput) (*UploadResult, error) {
	assignmentID := strings.TrimSpace(in.AssignmentID)
	if assignmentID == "" {
		if !state.HasActiveAssignment() {
			return nil, ErrNoActiveAssignment
		}
		assignmentID = state.ActiveAssignmentID.Hex()
	}
	model := in.Model
	if model == "" {
		model = llm.DefaultSummaryModel
	}
	if err := llm.CheckModel(model); err != nil {
		return nil, err
	}
	assignment, err := s.getAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if len(in.File.Content) == 0 {
		return nil, ErrEmptyFile
	}

	prior, err := s.submissionRepo.ListByAssignment(ctx, assignment.ID, studentID)
	if err != nil {
		return nil, err
	}

	mime := in.File.MimeType
	if mime == "" {
		mime = "application/pdf"
	}
	submission := &domain.StudentSubmission{
		ID:           primitive.NewObjectID(),
		AssignmentID: assignment.ID,
		StudentID:    studentID,
		Filename:     normalizeFilename(in.File.Filename, defaultSubmissionFilename),
		MimeType:     mime,
		Size:         int64(len(in.File.Content)),
		UploadedAt:   time.Now().UTC(),
	}
	submission.ObjectKey = fmt.Sprintf("submissions/%s/%s/%s", assignment.ID.Hex(), studentID.Hex(), uuid.NewString())

	if err := s.files.PutObject(ctx, submission.ObjectKey, submission.MimeType, in.File.Content); err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}
	if _, err := s.submissionRepo.Create(ctx, submission); err != nil {
		if delErr := s.files.DeleteObject(ctx, submission.ObjectKey); delErr != nil {
			s.log.Warn("Failed to remove orphaned submission object", "key", submission.ObjectKey, "error", delErr.Error())
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}

	result := &UploadResult{Submission: submission}
	summary, err := s.summarizer.SummarizeDocument(ctx, in.File.Content, model)
	if err != nil {
		s.log.Warn("Submission summary failed", "submissionId", submission.ID.Hex(), "error", err.Error())
		result.Warning = err.Error()
	} else {
		at := time.Now().UTC()
		if err := s.submissionRepo.SetSummary(ctx, submission.ID, summary.Text, summary.Model, at); err != nil {
			s.log.Warn("Failed to store submission summary", "submissionId", submission.ID.Hex(), "error", err.Error())
			result.Warning = "summary could not be saved"
		} else {
			submission.SetSummary(summary.Text, summary.Model, at)
		}
	}

	state.ActiveAssignmentID = assignment.ID
	state.ActiveAssignmentTitle = assignment.Title
	state.Stage = session.StageReview
	if len(prior) > 0 {
		state.Stage = session.StageChat
	}
	result.State = state

	s.log.Info("Submission uploaded", "submissionId", submission.ID.Hex(), "assignmentId", assignment.ID.Hex(), "stage", state.Stage)
	return result, nil
}

func (s *studentService) Dashboard(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, requestedStage int) (*Dashboard, error) {
	assignments, err := s.assignmentRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Assignments: assignments}

	stage := state.Stage
	if requestedStage != 0 {
		stage = requestedStage
	}

	if state.HasActiveAssignment() {
		active, err := s.assignmentRepo.GetByID(ctx, state.ActiveAssignmentID)
		switch {
		case err == nil:
			d.ActiveAssignment = active
		case errors.Is(err, repository.ErrNotFound):
			// Deleted by a lecturer since it was selected
			state.ActiveAssignmentID = primitive.NilObjectID
			state.ActiveAssignmentTitle = ""
		default:
			return nil, err
		}
	}

	if d.ActiveAssignment != nil {
		d.LecturerBrief = d.ActiveAssignment.LecturerBrief()
		d.Prompts = d.ActiveAssignment.SortedPrompts()
		d.Submissions, err = s.submissionRepo.ListByAssignment(ctx, d.ActiveAssignment.ID, studentID)
		if err != nil {
			return nil, err
		}
		if len(d.Submissions) > 0 {
			d.ActiveSubmission = &d.Submissions[0]
		}
	}

	stage = ClampStage(stage, d.ActiveAssignment != nil, d.ActiveSubmission != nil)
	if stage == session.StageChat && d.ActiveSubmission != nil {
		if err := s.advancePrompts(ctx, d.ActiveAssignment, d.ActiveSubmission); err != nil {
			return nil, err
		}
		d.Messages, err = s.messageRepo.ListBySubmission(ctx, d.ActiveSubmission.ID)
		if err != nil {
			return nil, err
		}
	}

	state.Stage = stage
	d.Stage = stage
	d.State = state
	return d, nil
}

func (s *studentService) SendMessage(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, in SendMessageInput) (*ChatTurn, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, conversation.ErrEmptyMessage
	}
	submission, err := s.ownedSubmission(ctx, studentID, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.assignmentRepo.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	// First entry into the conversation plays the pending prompt before the
	// student's turn.
	if err := s.advancePrompts(ctx, assignment, submission); err != nil {
		return nil, err
	}
	history, err := s.messageRepo.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return nil, err
	}

	reply, err := s.chat.Respond(ctx, conversation.RespondInput{
		Assignment:             assignment,
		Submission:             submission,
		History:                history,
		UserMessage:            text,
		Model:                  s.chatModel,
		IncludeLecturerSummary: in.IncludeLecturerSummary,
		IncludeStudentSummary:  in.IncludeStudentSummary,
	})
	if err != nil {
		// Nothing was written: the student turn is dropped with the failure.
		return nil, err
	}

	studentMsg := domain.NewStudentMessage(submission.ID, text, s.chatModel, domain.StudentContext{
		IncludeLecturerSummary: in.IncludeLecturerSummary,
		IncludeStudentSummary:  in.IncludeStudentSummary,
	})
	assistantMsg := domain.NewAssistantMessage(submission.ID, reply.Text, reply.Model, domain.AssistantContext{
		IncludeLecturerSummary: in.IncludeLecturerSummary,
		IncludeStudentSummary:  in.IncludeStudentSummary,
		PromptTokens:           reply.PromptTokens,
		CompletionTokens:       reply.CompletionTokens,
		TotalTokens:            reply.TotalTokens,
	})
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.messageRepo.CreateMany(ctx, []*domain.Message{studentMsg, assistantMsg})
	})
	if err != nil {
		return nil, fmt.Errorf("save chat turn: %w", err)
	}

	if err := s.advancePrompts(ctx, assignment, submission); err != nil {
		return nil, err
	}
	transcript, err := s.messageRepo.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return nil, err
	}

	state.ActiveAssignmentID = assignment.ID
	state.ActiveAssignmentTitle = assignment.Title
	state.Stage = session.StageChat
	return &ChatTurn{Student: studentMsg, Assistant: assistantMsg, Messages: transcript, State: state}, nil
}

// Restart clears the conversation and rewinds the prompt cursor so the
// lecturer prompts play again.
func (s *studentService) Restart(ctx context.Context, state session.WizardState, studentID primitive.ObjectID, submissionID string) (session.WizardState, error) {
	submission, err := s.ownedSubmission(ctx, studentID, submissionID)
	if err != nil {
		return state, err
	}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.messageRepo.DeleteBySubmission(ctx, submission.ID); err != nil {
			return err
		}
		return s.submissionRepo.ResetPromptCursor(ctx, submission.ID)
	})
	if err != nil {
		return state, mapNotFound(err)
	}
	s.log.Info("Conversation restarted", "submissionId", submission.ID.Hex())

	if assignment, err := s.assignmentRepo.GetByID(ctx, submission.AssignmentID); err == nil {
		state.ActiveAssignmentID = assignment.ID
		state.ActiveAssignmentTitle = assignment.Title
	}
	state.Stage = session.StageChat
	return state, nil
}

func (s *studentService) Export(ctx context.Context, studentID primitive.ObjectID, submissionID string) (*ExportFile, error) {
	submission, err := s.ownedSubmission(ctx, studentID, submissionID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.assignmentRepo.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	msgs, err := s.messageRepo.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return nil, err
	}

	t := export.Transcript{
		AssignmentTitle: assignment.Title,
		StudentSummary:  submission.Summary,
		StudentModel:    submission.SummaryModel,
	}
	if brief := assignment.LecturerBrief(); brief != nil {
		t.LecturerSummary = brief.Summary
		t.LecturerModel = brief.SummaryModel
	}
	for _, m := range msgs {
		t.Messages = append(t.Messages, export.Entry{Role: string(m.Role), Content: m.Content, Timestamp: m.CreatedAt})
	}

	content, err := s.exporter.Build(t)
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Filename: "conversation_" + strings.ReplaceAll(assignment.Title, " ", "_") + ".pdf",
		Content:  content,
	}, nil
}

func (s *studentService) DownloadSubmission(ctx context.Context, studentID primitive.ObjectID, submissionID string) (*FileDownload, error) {
	submission, err := s.ownedSubmission(ctx, studentID, submissionID)
	if err != nil {
		return nil, err
	}
	body, size, err := s.files.GetObject(ctx, submission.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &FileDownload{Filename: submission.Filename, MimeType: submission.MimeType, Size: size, Body: body}, nil
}

// advancePrompts plays the prompt at the submission's cursor unless the
// transcript already ends with a lecturer message. The cursor is claimed
// with a compare-and-swap, so a concurrent tab cannot play it twice.
func (s *studentService) advancePrompts(ctx context.Context, assignment *domain.Assignment, submission *domain.StudentSubmission) error {
	prompts := assignment.SortedPrompts()
	idx := submission.NextPromptIndex
	if idx < 0 || idx >= len(prompts) {
		return nil
	}
	msgs, err := s.messageRepo.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return err
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == domain.MessageRoleLecturer {
		return nil
	}

	played := false
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.submissionRepo.AdvancePromptCursor(ctx, submission.ID, idx)
		if err != nil || !ok {
			return err
		}
		played = true
		return s.messageRepo.Create(ctx, domain.NewLecturerMessage(submission.ID, prompts[idx]))
	})
	if err != nil {
		return fmt.Errorf("play lecturer prompt: %w", err)
	}
	if played {
		submission.NextPromptIndex = idx + 1
		s.log.Debug("Lecturer prompt played", "submissionId", submission.ID.Hex(), "promptId", prompts[idx].ID.Hex())
	}
	return nil
}

func (s *studentService) getAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	a, err := s.assignmentRepo.GetByID(ctx, oid)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return a, nil
}

// ownedSubmission hides other students' submissions behind ErrNotFound.
func (s *studentService) ownedSubmission(ctx context.Context, studentID primitive.ObjectID, id string) (*domain.StudentSubmission, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	sub, err := s.submissionRepo.GetByID(ctx, oid)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if sub.StudentID != studentID {
		return nil, ErrNotFound
	}
	return sub, nil
}
