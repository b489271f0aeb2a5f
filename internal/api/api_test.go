package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dialoque/server/internal/conversation"
	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/service"
	"dialoque/server/internal/session"
	"dialoque/server/internal/summarize"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "test-secret"

// Stubs embed the service interface; calling a method that is not
// overridden panics, which flags an unexpected call.

type stubAuth struct {
	service.AuthService
	token string
	user  *domain.User
}

func (s *stubAuth) Login(context.Context, string, string) (string, *domain.User, error) {
	if s.token == "" {
		return "", nil, service.ErrAuthenticationFailed
	}
	return s.token, s.user, nil
}

func (s *stubAuth) GetUser(_ context.Context, id string) (*domain.User, error) {
	if s.user == nil || s.user.ID.Hex() != id {
		return nil, service.ErrNotFound
	}
	return s.user, nil
}

type stubAdmin struct {
	service.AdminService
}

func (stubAdmin) ListUsers(context.Context) ([]domain.User, error) {
	return []domain.User{{ID: primitive.NewObjectID(), Username: "ada", PasswordHash: "hash", Role: domain.RoleStudent}}, nil
}

func (stubAdmin) UpdateUser(_ context.Context, _ string, in service.UpdateUserInput) (*domain.User, error) {
	return &domain.User{ID: primitive.NewObjectID(), Username: "ada", Email: in.Email, PasswordHash: "hash", Role: domain.RoleStudent}, nil
}

func (stubAdmin) DeleteUser(_ context.Context, actorID, userID string) error {
	if actorID == userID {
		return service.ErrSelfModification
	}
	return nil
}

type stubLecturer struct {
	service.LecturerService
	created    *service.CreateAssignmentInput
	summaryErr error
}

func (s *stubLecturer) CreateAssignment(_ context.Context, in service.CreateAssignmentInput) (*domain.Assignment, error) {
	s.created = &in
	return &domain.Assignment{ID: primitive.NewObjectID(), Title: in.Title}, nil
}

func (s *stubLecturer) ListAssignments(context.Context) ([]domain.Assignment, error) {
	return nil, nil
}

func (s *stubLecturer) SummarizeBrief(_ context.Context, _, model string) (*domain.AssignmentDocument, error) {
	if s.summaryErr != nil {
		return nil, s.summaryErr
	}
	return &domain.AssignmentDocument{Slot: 1, Summary: "ok", SummaryModel: model}, nil
}

type stubStudent struct {
	service.StudentService
	requested int
	sendIn    service.SendMessageInput
	sendErr   error
}

func (s *stubStudent) Dashboard(_ context.Context, state session.WizardState, _ primitive.ObjectID, requested int) (*service.Dashboard, error) {
	s.requested = requested
	state.Stage = session.StageSelect
	return &service.Dashboard{State: state, Stage: state.Stage}, nil
}

func (s *stubStudent) SendMessage(_ context.Context, state session.WizardState, _ primitive.ObjectID, in service.SendMessageInput) (*service.ChatTurn, error) {
	s.sendIn = in
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	state.Stage = session.StageChat
	return &service.ChatTurn{State: state}, nil
}

func (s *stubStudent) Export(context.Context, primitive.ObjectID, string) (*service.ExportFile, error) {
	return &service.ExportFile{Filename: "conversation_Case_Study.pdf", Content: []byte("%PDF-1.3")}, nil
}

type testServer struct {
	router   *gin.Engine
	auth     *stubAuth
	lecturer *stubLecturer
	student  *stubStudent
	sessions *session.MemoryStore
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		router:   gin.New(),
		auth:     &stubAuth{},
		lecturer: &stubLecturer{},
		student:  &stubStudent{},
		sessions: session.NewMemoryStore(),
	}
	SetupRoutes(ts.router, RouteOptions{JWTSecret: testSecret, TokenTTL: time.Hour, MaxUploadBytes: 1 << 20},
		ts.auth, stubAdmin{}, ts.lecturer, ts.student, ts.sessions, logger.NewNop())
	return ts
}

func tokenFor(t *testing.T, role domain.Role, sid string) (string, primitive.ObjectID) {
	t.Helper()
	uid := primitive.NewObjectID()
	claims := &jwtClaims{
		UserID:    uid.Hex(),
		Role:      role,
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token, uid
}

func (ts *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

func TestPing(t *testing.T) {
	ts := newTestServer()
	w := ts.do(httptest.NewRequest(http.MethodGet, "/ping", nil), "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Fatalf("ping = %d %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/student/dashboard", nil), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", w.Code)
	}
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/student/dashboard", nil), "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", w.Code)
	}
	noSID, _ := tokenFor(t, domain.RoleStudent, "")
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/student/dashboard", nil), noSID)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("token without session id: %d", w.Code)
	}

	token, _ := tokenFor(t, domain.RoleStudent, "sid-cookie")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/student/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	if w := ts.do(req, ""); w.Code != http.StatusOK {
		t.Errorf("cookie auth: %d %s", w.Code, w.Body.String())
	}
}

func TestRoleMiddleware(t *testing.T) {
	ts := newTestServer()
	student, _ := tokenFor(t, domain.RoleStudent, "s1")
	lecturer, _ := tokenFor(t, domain.RoleLecturer, "s2")
	admin, _ := tokenFor(t, domain.RoleAdmin, "s3")

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"student on lecturer route", "/api/v1/lecturer/assignments", student, http.StatusForbidden},
		{"lecturer on lecturer route", "/api/v1/lecturer/assignments", lecturer, http.StatusOK},
		{"admin on lecturer route", "/api/v1/lecturer/assignments", admin, http.StatusOK},
		{"lecturer on admin route", "/api/v1/admin/users", lecturer, http.StatusForbidden},
		{"admin on admin route", "/api/v1/admin/users", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, tt.path, nil), tt.token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil), admin)
	if strings.Contains(w.Body.String(), "hash") {
		t.Error("user listing leaked the password hash")
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	ts := newTestServer()
	ts.auth.token = "signed-token"
	ts.auth.user = &domain.User{ID: primitive.NewObjectID(), Username: "ada", Role: domain.RoleStudent}

	w := ts.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", gin.H{"login": "ada", "password": "pw"}), "")
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	cookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, SessionCookieName+"=signed-token") || !strings.Contains(cookie, "HttpOnly") {
		t.Errorf("Set-Cookie = %q", cookie)
	}
	var resp LoginResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token != "signed-token" || resp.User.Username != "ada" {
		t.Errorf("resp = %+v", resp)
	}

	ts.auth.token = ""
	w = ts.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", gin.H{"login": "ada", "password": "bad"}), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d", w.Code)
	}
}

func TestDashboardStepParsing(t *testing.T) {
	ts := newTestServer()
	token, _ := tokenFor(t, domain.RoleStudent, "sid-step")

	tests := []struct {
		query string
		want  int
	}{
		{"", 0},
		{"?step=3", 3},
		{"?step=abc", session.StageSelect},
		{"?step=", session.StageSelect},
	}
	for _, tt := range tests {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/student/dashboard"+tt.query, nil), token)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: status %d", tt.query, w.Code)
		}
		if ts.student.requested != tt.want {
			t.Errorf("%q: requested = %d, want %d", tt.query, ts.student.requested, tt.want)
		}
	}

	state, _ := ts.sessions.Load(context.Background(), "sid-step")
	if state.Stage != session.StageSelect {
		t.Errorf("saved state = %+v", state)
	}
}

func TestSendMessageBinding(t *testing.T) {
	ts := newTestServer()
	token, _ := tokenFor(t, domain.RoleStudent, "sid-chat")
	path := "/api/v1/student/submissions/" + primitive.NewObjectID().Hex() + "/messages"

	w := ts.do(jsonRequest(http.MethodPost, path, gin.H{"message": "hi"}), token)
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}
	if !ts.student.sendIn.IncludeLecturerSummary || !ts.student.sendIn.IncludeStudentSummary {
		t.Errorf("toggles should default to true: %+v", ts.student.sendIn)
	}

	w = ts.do(jsonRequest(http.MethodPost, path, gin.H{"message": "hi", "includeStudentSummary": false}), token)
	if w.Code != http.StatusOK || ts.student.sendIn.IncludeStudentSummary || !ts.student.sendIn.IncludeLecturerSummary {
		t.Errorf("explicit toggle: %d %+v", w.Code, ts.student.sendIn)
	}

	w = ts.do(jsonRequest(http.MethodPost, path, gin.H{"message": strings.Repeat("x", 4001)}), token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized message = %d", w.Code)
	}

	state, _ := ts.sessions.Load(context.Background(), "sid-chat")
	if state.Stage != session.StageChat {
		t.Errorf("saved stage = %d", state.Stage)
	}
}

func TestSendMessageErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", service.ErrNotFound, http.StatusNotFound},
		{"empty", conversation.ErrEmptyMessage, http.StatusBadRequest},
		{"unsupported model", llm.ErrUnsupportedModel, http.StatusBadRequest},
		{"provider failure", &conversation.ConversationError{Model: "gpt-5", Err: llm.ErrMissingAPIKey}, http.StatusBadGateway},
		{"unexpected", errors.New("socket closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.student.sendErr = tt.err
			token, _ := tokenFor(t, domain.RoleStudent, "sid")
			w := ts.do(jsonRequest(http.MethodPost, "/api/v1/student/submissions/x/messages", gin.H{"message": "hi"}), token)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			msg := errorMessage(t, w)
			if tt.want == http.StatusInternalServerError && strings.Contains(msg, "socket") {
				t.Errorf("internal error text leaked: %q", msg)
			}
		})
	}
}

func TestSummarizeBriefErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"extraction", summarize.ErrExtraction, http.StatusUnprocessableEntity},
		{"provider", &summarize.ProviderError{Model: "gpt-4o-mini", Err: llm.ErrEmptyOutput}, http.StatusBadGateway},
		{"unsupported", llm.ErrUnsupportedModel, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.lecturer.summaryErr = tt.err
			token, _ := tokenFor(t, domain.RoleLecturer, "sid")
			path := "/api/v1/lecturer/assignments/" + primitive.NewObjectID().Hex() + "/summary"
			w := ts.do(jsonRequest(http.MethodPost, path, gin.H{"model": "gpt-4o-mini"}), token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCreateAssignmentMultipart(t *testing.T) {
	ts := newTestServer()
	token, _ := tokenFor(t, domain.RoleLecturer, "sid")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("title", "Case Study")
	_ = mw.WriteField("label1", "Brief")
	for _, name := range []string{"doc1", "doc2", "doc3", "doc4"} {
		fw, _ := mw.CreateFormFile(name, name+".pdf")
		_, _ = io.WriteString(fw, "content of "+name)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/lecturer/assignments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := ts.do(req, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}

	in := ts.lecturer.created
	if in == nil || in.Title != "Case Study" {
		t.Fatalf("input = %+v", in)
	}
	if in.Documents[0].Label != "Brief" || in.Documents[1].Label != "" {
		t.Errorf("labels = %q, %q", in.Documents[0].Label, in.Documents[1].Label)
	}
	for i, d := range in.Documents {
		if d.File == nil || len(d.File.Content) == 0 {
			t.Errorf("slot %d missing file", i+1)
		}
	}
	if in.Documents[2].File.Filename != "doc3.pdf" {
		t.Errorf("filename = %q", in.Documents[2].File.Filename)
	}
}

func TestExportHeaders(t *testing.T) {
	ts := newTestServer()
	token, _ := tokenFor(t, domain.RoleStudent, "sid")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/student/submissions/abc/export", nil), token)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "conversation_Case_Study.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestAdminUpdateAndDeleteUser(t *testing.T) {
	ts := newTestServer()
	admin, adminID := tokenFor(t, domain.RoleAdmin, "s-admin")
	target := "/api/v1/admin/users/" + primitive.NewObjectID().Hex()

	w := ts.do(jsonRequest(http.MethodPut, target, gin.H{"password": "short"}), admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("short password = %d", w.Code)
	}
	w = ts.do(jsonRequest(http.MethodPut, target, gin.H{"email": "ada@example.org", "password": "long-enough"}), admin)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "hash") {
		t.Errorf("update = %d %s", w.Code, w.Body.String())
	}

	if w := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/admin/users/"+adminID.Hex(), nil), admin); w.Code != http.StatusForbidden {
		t.Errorf("self delete = %d", w.Code)
	}
	if w := ts.do(httptest.NewRequest(http.MethodDelete, target, nil), admin); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
}
