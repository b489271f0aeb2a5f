package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/repository"
	"dialoque/server/internal/storage"
	"dialoque/server/internal/summarize"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// --- Error Definitions ---
var (
	ErrDocumentsRequired    = errors.New("exactly four PDF documents are required per assignment")
	ErrAssignmentIncomplete = errors.New("assignment is missing documents; please recreate it")
	ErrBriefMissing         = errors.New("assignment is missing the first document")
	ErrTitleRequired        = errors.New("assignment title is required")
	ErrPromptInvalid        = errors.New("prompt title and text are required")
)

// DefaultDocumentLabels are used for slots 1-4 when no label is given.
var DefaultDocumentLabels = [domain.DocumentSlots]string{
	"Instructor brief",
	"Student instructions",
	"Supporting data",
	"Assessment rubric",
}

// Summarizer summarizes raw document content.
type Summarizer interface {
	SummarizeDocument(ctx context.Context, content []byte, modelID string) (summarize.Result, error)
}

// DocumentUpload is one slot of a new assignment.
type DocumentUpload struct {
	Label string
	File  *FileUpload
}

type CreateAssignmentInput struct {
	Title       string
	Description string
	Documents   [domain.DocumentSlots]DocumentUpload
}

// UpdateAssignmentInput changes labels and optionally replaces files. A nil
// file keeps the stored one; an empty label keeps the stored label.
type UpdateAssignmentInput struct {
	Title       string
	Description string
	Labels      [domain.DocumentSlots]string
	Files       [domain.DocumentSlots]*FileUpload
}

type PromptInput struct {
	Title           string
	PromptText      string
	ExampleResponse string
	DisplayOrder    int
}

// LecturerService manages assignments, their documents and prompts.
type LecturerService interface {
	ListAssignments(ctx context.Context) ([]domain.Assignment, error)
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)
	CreateAssignment(ctx context.Context, in CreateAssignmentInput) (*domain.Assignment, error)
	UpdateAssignment(ctx context.Context, id string, in UpdateAssignmentInput) (*domain.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) error
	// SummarizeBrief summarizes the slot 1 document with model and stores it.
	SummarizeBrief(ctx context.Context, id, model string) (*domain.AssignmentDocument, error)
	AddPrompt(ctx context.Context, id string, in PromptInput) (*domain.AssignmentPrompt, error)
	UpdatePrompt(ctx context.Context, id, promptID string, in PromptInput) (*domain.AssignmentPrompt, error)
	DeletePrompt(ctx context.Context, id, promptID string) error
	ListSubmissions(ctx context.Context, id string) ([]domain.StudentSubmission, error)
	DownloadDocument(ctx context.Context, id string, slot int) (*FileDownload, error)
}

type lecturerService struct {
	assignmentRepo repository.AssignmentRepository
	submissionRepo repository.SubmissionRepository
	messageRepo    repository.MessageRepository
	tx             repository.Transactor
	files          storage.FileStorage
	summarizer     Summarizer
	log            *logger.Logger
}

func NewLecturerService(
	assignmentRepo repository.AssignmentRepository,
	submissionRepo repository.SubmissionRepository,
	messageRepo repository.MessageRepository,
	tx repository.Transactor,
	files storage.FileStorage,
	summarizer Summarizer,
	log *logger.Logger,
) LecturerService {
	return &lecturerService{
		assignmentRepo: assignmentRepo,
		submissionRepo: submissionRepo,
		messageRepo:    messageRepo,
		tx:             tx,
		files:          files,
		summarizer:     summarizer,
		log:            log.With("service", "LecturerService"),
	}
}

func (s *lecturerService) ListAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return s.assignmentRepo.List(ctx)
}

func (s *lecturerService) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
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

// CreateAssignment stores the four documents concurrently and inserts the
// assignment only when all of them were stored. Any failure removes the
// objects already written.
func (s *lecturerService) CreateAssignment(ctx context.Context, in CreateAssignmentInput) (*domain.Assignment, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	for _, d := range in.Documents {
		if d.File == nil || len(d.File.Content) == 0 {
			return nil, ErrDocumentsRequired
		}
	}

	assignment := &domain.Assignment{
		ID:          primitive.NewObjectID(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Documents:   make([]domain.AssignmentDocument, domain.DocumentSlots),
		Prompts:     []domain.AssignmentPrompt{},
	}
	now := time.Now().UTC()
	for i, d := range in.Documents {
		slot := i + 1
		assignment.Documents[i] = newDocument(assignment.ID, slot, documentLabel(d.Label, "", slot), d.File, now)
	}

	if err := s.putDocuments(ctx, assignment.Documents, in.Documents[:]); err != nil {
		return nil, err
	}

	if _, err := s.assignmentRepo.Create(ctx, assignment); err != nil {
		s.deleteObjects(documentKeys(assignment.Documents))
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	s.log.Info("Assignment created", "assignmentId", assignment.ID.Hex(), "title", assignment.Title)
	return assignment, nil
}

// putDocuments uploads files[i] under docs[i].ObjectKey in parallel. On
// failure every object that made it is removed again.
func (s *lecturerService) putDocuments(ctx context.Context, docs []domain.AssignmentDocument, files []DocumentUpload) error {
	stored := make([]bool, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range docs {
		i := i
		if files[i].File == nil {
			continue
		}
		g.Go(func() error {
			if err := s.files.PutObject(gctx, docs[i].ObjectKey, docs[i].MimeType, files[i].File.Content); err != nil {
				return fmt.Errorf("store document %d: %w", docs[i].Slot, err)
			}
			stored[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var keys []string
		for i, ok := range stored {
			if ok {
				keys = append(keys, docs[i].ObjectKey)
			}
		}
		s.deleteObjects(keys)
		return err
	}
	return nil
}

func (s *lecturerService) UpdateAssignment(ctx context.Context, id string, in UpdateAssignmentInput) (*domain.Assignment, error) {
	assignment, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !assignment.IsComplete() {
		return nil, ErrAssignmentIncomplete
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	assignment.Title = title
	assignment.Description = strings.TrimSpace(in.Description)

	now := time.Now().UTC()
	replaced := make([]domain.AssignmentDocument, domain.DocumentSlots)
	uploads := make([]DocumentUpload, domain.DocumentSlots)
	var oldKeys []string
	for i := 0; i < domain.DocumentSlots; i++ {
		slot := i + 1
		doc := assignment.Document(slot)
		doc.Label = documentLabel(in.Labels[i], doc.Label, slot)

		f := in.Files[i]
		if f == nil || len(f.Content) == 0 {
			continue
		}
		oldKeys = append(oldKeys, doc.ObjectKey)
		next := newDocument(assignment.ID, slot, doc.Label, f, now)
		doc.ID = next.ID
		doc.Filename = next.Filename
		doc.MimeType = next.MimeType
		doc.Size = next.Size
		doc.ObjectKey = next.ObjectKey
		doc.UploadedAt = now
		replaced[i] = *doc
		uploads[i] = DocumentUpload{File: f}
	}

	if err := s.putDocuments(ctx, replaced, uploads); err != nil {
		return nil, err
	}
	if err := s.assignmentRepo.Update(ctx, assignment); err != nil {
		var newKeys []string
		for i, u := range uploads {
			if u.File != nil {
				newKeys = append(newKeys, replaced[i].ObjectKey)
			}
		}
		s.deleteObjects(newKeys)
		return nil, mapNotFound(err)
	}
	s.deleteObjects(oldKeys)
	return assignment, nil
}

// DeleteAssignment removes the assignment, its submissions and their
// messages in one transaction, then the stored objects.
func (s *lecturerService) DeleteAssignment(ctx context.Context, id string) error {
	assignment, err := s.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	submissions, err := s.submissionRepo.ListByAssignment(ctx, assignment.ID, primitive.NilObjectID)
	if err != nil {
		return err
	}
	subIDs := make([]primitive.ObjectID, 0, len(submissions))
	keys := documentKeys(assignment.Documents)
	for _, sub := range submissions {
		subIDs = append(subIDs, sub.ID)
		keys = append(keys, sub.ObjectKey)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.messageRepo.DeleteBySubmissions(ctx, subIDs); err != nil {
			return err
		}
		if err := s.submissionRepo.DeleteByAssignment(ctx, assignment.ID); err != nil {
			return err
		}
		return s.assignmentRepo.Delete(ctx, assignment.ID)
	})
	if err != nil {
		return mapNotFound(err)
	}
	s.deleteObjects(keys)
	s.log.Info("Assignment deleted", "assignmentId", assignment.ID.Hex(), "submissions", len(subIDs))
	return nil
}

func (s *lecturerService) SummarizeBrief(ctx context.Context, id, model string) (*domain.AssignmentDocument, error) {
	if err := llm.CheckModel(model); err != nil {
		return nil, err
	}
	assignment, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	brief := assignment.LecturerBrief()
	if brief == nil {
		return nil, ErrBriefMissing
	}

	content, err := s.readObject(ctx, brief.ObjectKey)
	if err != nil {
		return nil, err
	}
	result, err := s.summarizer.SummarizeDocument(ctx, content, model)
	if err != nil {
		return nil, err
	}

	at := time.Now().UTC()
	if err := s.assignmentRepo.SetDocumentSummary(ctx, assignment.ID, brief.Slot, result.Text, result.Model, at); err != nil {
		return nil, mapNotFound(err)
	}
	brief.Summary = result.Text
	brief.SummaryModel = result.Model
	brief.SummaryUpdatedAt = &at
	s.log.Info("Lecturer brief summarised", "assignmentId", assignment.ID.Hex(), "model", result.Model)
	return brief, nil
}

func (s *lecturerService) AddPrompt(ctx context.Context, id string, in PromptInput) (*domain.AssignmentPrompt, error) {
	prompt, err := newPrompt(in)
	if err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if err := s.assignmentRepo.AddPrompt(ctx, oid, prompt); err != nil {
		return nil, mapNotFound(err)
	}
	return prompt, nil
}

func (s *lecturerService) UpdatePrompt(ctx context.Context, id, promptID string, in PromptInput) (*domain.AssignmentPrompt, error) {
	prompt, err := newPrompt(in)
	if err != nil {
		return nil, err
	}
	assignment, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	pid, err := parseID(promptID)
	if err != nil {
		return nil, err
	}
	existing := assignment.Prompt(pid)
	if existing == nil {
		return nil, ErrNotFound
	}
	prompt.ID = existing.ID
	prompt.CreatedAt = existing.CreatedAt
	if err := s.assignmentRepo.UpdatePrompt(ctx, assignment.ID, prompt); err != nil {
		return nil, mapNotFound(err)
	}
	return prompt, nil
}

func (s *lecturerService) DeletePrompt(ctx context.Context, id, promptID string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	pid, err := parseID(promptID)
	if err != nil {
		return err
	}
	return mapNotFound(s.assignmentRepo.DeletePrompt(ctx, oid, pid))
}

func (s *lecturerService) ListSubmissions(ctx context.Context, id string) ([]domain.StudentSubmission, error) {
	assignment, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.submissionRepo.ListByAssignment(ctx, assignment.ID, primitive.NilObjectID)
}

func (s *lecturerService) DownloadDocument(ctx context.Context, id string, slot int) (*FileDownload, error) {
	assignment, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := assignment.Document(slot)
	if doc == nil {
		return nil, ErrNotFound
	}
	body, size, err := s.files.GetObject(ctx, doc.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &FileDownload{Filename: doc.Filename, MimeType: doc.MimeType, Size: size, Body: body}, nil
}

func (s *lecturerService) readObject(ctx context.Context, key string) ([]byte, error) {
	body, _, err := s.files.GetObject(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// deleteObjects is best effort; leftovers are only logged.
func (s *lecturerService) deleteObjects(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.files.DeleteObject(ctx, key); err != nil {
			s.log.Warn("Failed to delete stored object", "key", key, "error", err.Error())
		}
	}
}

func newDocument(assignmentID primitive.ObjectID, slot int, label string, f *FileUpload, at time.Time) domain.AssignmentDocument {
	mime := f.MimeType
	if mime == "" {
		mime = "application/pdf"
	}
	return domain.AssignmentDocument{
		ID:         primitive.NewObjectID(),
		Slot:       slot,
		Label:      label,
		Filename:   normalizeFilename(f.Filename, fmt.Sprintf("document_%d.pdf", slot)),
		MimeType:   mime,
		Size:       int64(len(f.Content)),
		ObjectKey:  fmt.Sprintf("assignments/%s/slot-%d/%s", assignmentID.Hex(), slot, uuid.NewString()),
		UploadedAt: at,
	}
}

func newPrompt(in PromptInput) (*domain.AssignmentPrompt, error) {
	title := strings.TrimSpace(in.Title)
	text := strings.TrimSpace(in.PromptText)
	if title == "" || text == "" {
		return nil, ErrPromptInvalid
	}
	return &domain.AssignmentPrompt{
		Title:           title,
		PromptText:      text,
		ExampleResponse: strings.TrimSpace(in.ExampleResponse),
		DisplayOrder:    in.DisplayOrder,
	}, nil
}

// documentLabel picks the given label, then the current one, then the slot
// default.
func documentLabel(label, current string, slot int) string {
	if l := strings.TrimSpace(label); l != "" {
		return l
	}
	if l := strings.TrimSpace(current); l != "" {
		return l
	}
	if slot >= 1 && slot <= len(DefaultDocumentLabels) {
		return DefaultDocumentLabels[slot-1]
	}
	return fmt.Sprintf("Document %d", slot)
}

// normalizeFilename keeps the base name of an uploaded file, or fallback
// when nothing usable is left.
func normalizeFilename(name, fallback string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name != "" {
		name = path.Base(name)
	}
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}

func documentKeys(docs []domain.AssignmentDocument) []string {
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.ObjectKey)
	}
	return keys
}
