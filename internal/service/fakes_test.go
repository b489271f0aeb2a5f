package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dialoque/server/internal/conversation"
	"dialoque/server/internal/domain"
	"dialoque/server/internal/export"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/repository"
	"dialoque/server/internal/storage"
	"dialoque/server/internal/summarize"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- repositories ---

type memAssignments struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]domain.Assignment
}

func newMemAssignments() *memAssignments {
	return &memAssignments{items: map[primitive.ObjectID]domain.Assignment{}}
}

func cloneAssignment(a domain.Assignment) domain.Assignment {
	a.Documents = append([]domain.AssignmentDocument(nil), a.Documents...)
	a.Prompts = append([]domain.AssignmentPrompt(nil), a.Prompts...)
	return a
}

func (m *memAssignments) Create(_ context.Context, a *domain.Assignment) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	a.CreatedAt = time.Now().UTC()
	m.items[a.ID] = cloneAssignment(*a)
	return a.ID, nil
}

func (m *memAssignments) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneAssignment(a)
	return &c, nil
}

func (m *memAssignments) List(_ context.Context) ([]domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Assignment{}
	for _, a := range m.items {
		out = append(out, cloneAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() > out[j].ID.Hex() })
	return out, nil
}

func (m *memAssignments) Update(_ context.Context, a *domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Title, cur.Description = a.Title, a.Description
	cur.Documents = append([]domain.AssignmentDocument(nil), a.Documents...)
	m.items[a.ID] = cur
	return nil
}

func (m *memAssignments) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memAssignments) SetDocumentSummary(_ context.Context, id primitive.ObjectID, slot int, summary, model string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	doc := a.Document(slot)
	if doc == nil {
		return repository.ErrNotFound
	}
	doc.Summary, doc.SummaryModel, doc.SummaryUpdatedAt = summary, model, &at
	m.items[id] = a
	return nil
}

func (m *memAssignments) AddPrompt(_ context.Context, id primitive.ObjectID, p *domain.AssignmentPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	a.Prompts = append(a.Prompts, *p)
	m.items[id] = a
	return nil
}

func (m *memAssignments) UpdatePrompt(_ context.Context, id primitive.ObjectID, p *domain.AssignmentPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	cur := a.Prompt(p.ID)
	if cur == nil {
		return repository.ErrNotFound
	}
	*cur = *p
	m.items[id] = a
	return nil
}

func (m *memAssignments) DeletePrompt(_ context.Context, id, promptID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Prompt(promptID) == nil {
		return repository.ErrNotFound
	}
	kept := a.Prompts[:0]
	for _, p := range a.Prompts {
		if p.ID != promptID {
			kept = append(kept, p)
		}
	}
	a.Prompts = kept
	m.items[id] = a
	return nil
}

type memSubmissions struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]domain.StudentSubmission
}

func newMemSubmissions() *memSubmissions {
	return &memSubmissions{items: map[primitive.ObjectID]domain.StudentSubmission{}}
}

func (m *memSubmissions) Create(_ context.Context, s *domain.StudentSubmission) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	m.items[s.ID] = *s
	return s.ID, nil
}

func (m *memSubmissions) GetByID(_ context.Context, id primitive.ObjectID) (*domain.StudentSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *memSubmissions) ListByAssignment(_ context.Context, assignmentID, studentID primitive.ObjectID) ([]domain.StudentSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.StudentSubmission{}
	for _, s := range m.items {
		if s.AssignmentID == assignmentID && (studentID.IsZero() || s.StudentID == studentID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() > out[j].ID.Hex() })
	return out, nil
}

func (m *memSubmissions) DeleteByAssignment(_ context.Context, assignmentID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.items {
		if s.AssignmentID == assignmentID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memSubmissions) SetSummary(_ context.Context, id primitive.ObjectID, summary, model string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.SetSummary(summary, model, at)
	m.items[id] = s
	return nil
}

func (m *memSubmissions) AdvancePromptCursor(_ context.Context, id primitive.ObjectID, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok || s.NextPromptIndex != expected {
		return false, nil
	}
	s.NextPromptIndex++
	m.items[id] = s
	return true, nil
}

func (m *memSubmissions) ResetPromptCursor(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.NextPromptIndex = 0
	m.items[id] = s
	return nil
}

type memMessages struct {
	mu    sync.Mutex
	items []domain.Message
}

func (m *memMessages) ListBySubmission(_ context.Context, submissionID primitive.ObjectID) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Message{}
	for _, msg := range m.items {
		if msg.SubmissionID == submissionID {
			out = append(out, msg)
		}
	}
	domain.SortMessages(out)
	return out, nil
}

func (m *memMessages) Create(ctx context.Context, msg *domain.Message) error {
	return m.CreateMany(ctx, []*domain.Message{msg})
}

func (m *memMessages) CreateMany(_ context.Context, msgs []*domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, msg := range msgs {
		msg.ID = primitive.NewObjectID()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		m.items = append(m.items, *msg)
	}
	return nil
}

func (m *memMessages) DeleteBySubmission(ctx context.Context, submissionID primitive.ObjectID) error {
	return m.DeleteBySubmissions(ctx, []primitive.ObjectID{submissionID})
}

func (m *memMessages) DeleteBySubmissions(_ context.Context, ids []primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := map[primitive.ObjectID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.items[:0]
	for _, msg := range m.items {
		if !drop[msg.SubmissionID] {
			kept = append(kept, msg)
		}
	}
	m.items = kept
	return nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type directTx struct{}

func (directTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memUsers struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{items: map[primitive.ObjectID]domain.User{}}
}

func (m *memUsers) Create(_ context.Context, u *domain.User) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Username == u.Username || (u.Email != "" && existing.Email == u.Email) {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
	}
	u.ID = primitive.NewObjectID()
	m.items[u.ID] = *u
	return u.ID, nil
}

func (m *memUsers) find(match func(domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.items {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	return m.find(func(u domain.User) bool { return u.ID == id })
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return m.find(func(u domain.User) bool { return u.Username == username })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return m.find(func(u domain.User) bool { return u.Email != "" && u.Email == email })
}

func (m *memUsers) List(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.User{}
	for _, u := range m.items {
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) SetRole(_ context.Context, id primitive.ObjectID, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	m.items[id] = u
	return nil
}

func (m *memUsers) SetActive(_ context.Context, id primitive.ObjectID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	m.items[id] = u
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, existing := range m.items {
		if id != u.ID && u.Email != "" && existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	cur.FirstName, cur.LastName, cur.Email, cur.PasswordHash = u.FirstName, u.LastName, u.Email, u.PasswordHash
	m.items[u.ID] = cur
	return nil
}

func (m *memUsers) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// --- collaborators ---

// scriptedProvider answers summaries with "Summary via <model>" and chat
// turns with a numbered reply.
type scriptedProvider struct {
	mu          sync.Mutex
	failSummary bool
	failChat    bool
	chatCalls   int
	lastChat    llm.Request
}

func (p *scriptedProvider) Generate(_ context.Context, req llm.Request) (llm.Generation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	isSummary := len(req.Messages) > 0 && strings.HasPrefix(req.Messages[0].Content, "You summarise")
	if isSummary {
		if p.failSummary {
			return llm.Generation{}, llm.ErrMissingAPIKey
		}
		return llm.Generation{Text: "Summary via " + req.Model}, nil
	}
	p.chatCalls++
	p.lastChat = req
	if p.failChat {
		return llm.Generation{}, llm.ErrEmptyOutput
	}
	total := 42
	return llm.Generation{Text: fmt.Sprintf("Assistant reply %d", p.chatCalls), Usage: llm.Usage{TotalTokens: &total}}, nil
}

// failingStorage rejects puts whose key contains failOn.
type failingStorage struct {
	*storage.MemoryStorage
	failOn string
}

func (f *failingStorage) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("bucket unavailable")
	}
	return f.MemoryStorage.PutObject(ctx, key, contentType, body)
}

type fixture struct {
	assignments *memAssignments
	submissions *memSubmissions
	messages    *memMessages
	files       *storage.MemoryStorage
	provider    *scriptedProvider
	lecturer    LecturerService
	student     StudentService
}

func newFixture() *fixture {
	log := logger.NewNop()
	f := &fixture{
		assignments: newMemAssignments(),
		submissions: newMemSubmissions(),
		messages:    &memMessages{},
		files:       storage.NewMemoryStorage(),
		provider:    &scriptedProvider{},
	}
	summarizer := summarize.NewClient(f.provider, log)
	f.lecturer = NewLecturerService(f.assignments, f.submissions, f.messages, directTx{}, f.files, summarizer, log)
	f.student = NewStudentService(f.assignments, f.submissions, f.messages, directTx{}, f.files, summarizer,
		conversation.NewClient(f.provider, log), export.NewExporter(false), log)
	return f
}

func pdfFile(name string) *FileUpload {
	return &FileUpload{Filename: name, MimeType: "application/pdf", Content: []byte("plain text body of " + name)}
}

func fourDocuments() [domain.DocumentSlots]DocumentUpload {
	return [domain.DocumentSlots]DocumentUpload{
		{Label: "Lecturer brief", File: pdfFile("brief.pdf")},
		{File: pdfFile("instructions.pdf")},
		{Label: "Data", File: pdfFile("data.pdf")},
		{Label: "Rubric", File: pdfFile("rubric.pdf")},
	}
}

func (f *fixture) createAssignment(title string, prompts ...PromptInput) *domain.Assignment {
	ctx := context.Background()
	a, err := f.lecturer.CreateAssignment(ctx, CreateAssignmentInput{Title: title, Documents: fourDocuments()})
	if err != nil {
		panic(err)
	}
	for _, p := range prompts {
		if _, err := f.lecturer.AddPrompt(ctx, a.ID.Hex(), p); err != nil {
			panic(err)
		}
	}
	stored, _ := f.assignments.GetByID(ctx, a.ID)
	return stored
}
