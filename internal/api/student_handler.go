package api

import (
	"fmt"
	"net/http"
	"strconv"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/service"
	"dialoque/server/internal/session"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StudentHandler serves the student wizard. Wizard state lives in the
// session store under the token's session id.
type StudentHandler struct {
	studentService service.StudentService
	sessions       session.Store
	maxUploadBytes int64
	log            *logger.Logger
}

func NewStudentHandler(studentService service.StudentService, sessions session.Store, maxUploadBytes int64, log *logger.Logger) *StudentHandler {
	return &StudentHandler{
		studentService: studentService,
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
		log:            log.With("handler", "StudentHandler"),
	}
}

// --- DTOs ---

type SelectRequest struct {
	AssignmentID string `json:"assignmentId" binding:"required"`
}

// SendMessageRequest toggles default to true when omitted.
type SendMessageRequest struct {
	Message                string `json:"message" binding:"required,max=4000"`
	IncludeLecturerSummary *bool  `json:"includeLecturerSummary"`
	IncludeStudentSummary  *bool  `json:"includeStudentSummary"`
}

type StateResponse struct {
	Stage                 int    `json:"stage"`
	ActiveAssignmentID    string `json:"activeAssignmentId,omitempty"`
	ActiveAssignmentTitle string `json:"activeAssignmentTitle,omitempty"`
}

type DashboardResponse struct {
	StateResponse
	Assignments      []domain.Assignment        `json:"assignments"`
	ActiveAssignment *domain.Assignment         `json:"activeAssignment,omitempty"`
	LecturerBrief    *domain.AssignmentDocument `json:"lecturerBrief,omitempty"`
	Submissions      []domain.StudentSubmission `json:"submissions"`
	Prompts          []domain.AssignmentPrompt  `json:"prompts"`
	ActiveSubmission *domain.StudentSubmission  `json:"activeSubmission,omitempty"`
	Messages         []domain.Message           `json:"messages"`
}

type UploadResponse struct {
	StateResponse
	Submission *domain.StudentSubmission `json:"submission"`
	Warning    string                    `json:"warning,omitempty"`
}

type ChatTurnResponse struct {
	StateResponse
	Student   *domain.Message  `json:"student"`
	Assistant *domain.Message  `json:"assistant"`
	Messages  []domain.Message `json:"messages"`
}

func mapState(s session.WizardState) StateResponse {
	resp := StateResponse{Stage: s.Stage}
	if s.HasActiveAssignment() {
		resp.ActiveAssignmentID = s.ActiveAssignmentID.Hex()
		resp.ActiveAssignmentTitle = s.ActiveAssignmentTitle
	}
	return resp
}

// --- Handler Methods ---

func (h *StudentHandler) ListAssignments(c *gin.Context) {
	assignments, err := h.studentService.ListAssignments(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to retrieve assignments.")
		return
	}
	if assignments == nil {
		assignments = []domain.Assignment{}
	}
	c.JSON(http.StatusOK, assignments)
}

// Dashboard renders the wizard. ?step=N requests a stage; a value that is
// not a number means stage 1, no value keeps the stored stage.
func (h *StudentHandler) Dashboard(c *gin.Context) {
	studentID, state, ok := h.begin(c)
	if !ok {
		return
	}
	requested := 0
	if raw, present := c.GetQuery("step"); present {
		n, err := strconv.Atoi(raw)
		if err != nil {
			n = session.StageSelect
		}
		requested = n
	}

	d, err := h.studentService.Dashboard(c.Request.Context(), state, studentID, requested)
	if err != nil {
		respondError(c, err, "Failed to load dashboard.")
		return
	}
	h.saveState(c, d.State)

	resp := DashboardResponse{
		StateResponse:    mapState(d.State),
		Assignments:      d.Assignments,
		ActiveAssignment: d.ActiveAssignment,
		LecturerBrief:    d.LecturerBrief,
		Submissions:      d.Submissions,
		Prompts:          d.Prompts,
		ActiveSubmission: d.ActiveSubmission,
		Messages:         d.Messages,
	}
	if resp.Assignments == nil {
		resp.Assignments = []domain.Assignment{}
	}
	if resp.Submissions == nil {
		resp.Submissions = []domain.StudentSubmission{}
	}
	if resp.Prompts == nil {
		resp.Prompts = []domain.AssignmentPrompt{}
	}
	if resp.Messages == nil {
		resp.Messages = []domain.Message{}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StudentHandler) Select(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	_, state, ok := h.begin(c)
	if !ok {
		return
	}
	state, err := h.studentService.Select(c.Request.Context(), state, req.AssignmentID)
	if err != nil {
		respondError(c, err, "Failed to select assignment.")
		return
	}
	h.saveState(c, state)
	c.JSON(http.StatusOK, mapState(state))
}

// Upload takes a multipart form with file, and optionally assignmentId and
// model.
func (h *StudentHandler) Upload(c *gin.Context) {
	limitBody(c, h.maxUploadBytes)
	studentID, state, ok := h.begin(c)
	if !ok {
		return
	}
	f, err := formFile(c, "file", h.maxUploadBytes)
	if err != nil {
		uploadError(c, err)
		return
	}
	if f == nil {
		abortWithError(c, http.StatusBadRequest, "Please choose a PDF file to upload.")
		return
	}

	result, err := h.studentService.Upload(c.Request.Context(), state, studentID, service.UploadInput{
		AssignmentID: c.PostForm("assignmentId"),
		Model:        c.PostForm("model"),
		File:         *f,
	})
	if err != nil {
		respondError(c, err, "Failed to upload submission.")
		return
	}
	h.saveState(c, result.State)
	c.JSON(http.StatusCreated, UploadResponse{
		StateResponse: mapState(result.State),
		Submission:    result.Submission,
		Warning:       result.Warning,
	})
}

func (h *StudentHandler) DownloadSubmission(c *gin.Context) {
	studentID, ok := studentIDFromContext(c)
	if !ok {
		return
	}
	dl, err := h.studentService.DownloadSubmission(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to download submission.")
		return
	}
	sendFile(c, dl)
}

func (h *StudentHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	studentID, state, ok := h.begin(c)
	if !ok {
		return
	}

	turn, err := h.studentService.SendMessage(c.Request.Context(), state, studentID, service.SendMessageInput{
		SubmissionID:           c.Param("id"),
		Text:                   req.Message,
		IncludeLecturerSummary: boolOr(req.IncludeLecturerSummary, true),
		IncludeStudentSummary:  boolOr(req.IncludeStudentSummary, true),
	})
	if err != nil {
		respondError(c, err, "Failed to send message.")
		return
	}
	h.saveState(c, turn.State)
	c.JSON(http.StatusOK, ChatTurnResponse{
		StateResponse: mapState(turn.State),
		Student:       turn.Student,
		Assistant:     turn.Assistant,
		Messages:      turn.Messages,
	})
}

func (h *StudentHandler) Restart(c *gin.Context) {
	studentID, state, ok := h.begin(c)
	if !ok {
		return
	}
	state, err := h.studentService.Restart(c.Request.Context(), state, studentID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to restart conversation.")
		return
	}
	h.saveState(c, state)
	c.JSON(http.StatusOK, mapState(state))
}

func (h *StudentHandler) Export(c *gin.Context) {
	studentID, ok := studentIDFromContext(c)
	if !ok {
		return
	}
	file, err := h.studentService.Export(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to export conversation.")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", strconv.Quote(file.Filename)))
	c.Data(http.StatusOK, "application/pdf", file.Content)
}

// begin resolves the caller and loads their wizard state. It aborts the
// request and reports false on failure.
func (h *StudentHandler) begin(c *gin.Context) (primitive.ObjectID, session.WizardState, bool) {
	studentID, ok := studentIDFromContext(c)
	if !ok {
		return primitive.NilObjectID, session.WizardState{}, false
	}
	state, err := h.sessions.Load(c.Request.Context(), getSessionIDFromContext(c))
	if err != nil {
		h.log.Error("Failed to load session state", "error", err.Error())
		abortWithError(c, http.StatusInternalServerError, "Failed to load session.")
		return primitive.NilObjectID, session.WizardState{}, false
	}
	return studentID, state, true
}

// saveState is best effort; the response already reflects the new state.
func (h *StudentHandler) saveState(c *gin.Context, state session.WizardState) {
	if err := h.sessions.Save(c.Request.Context(), getSessionIDFromContext(c), state); err != nil {
		h.log.Error("Failed to save session state", "error", err.Error())
	}
}

func studentIDFromContext(c *gin.Context) (primitive.ObjectID, bool) {
	idStr, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(idStr)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Invalid user ID format in token.")
		return primitive.NilObjectID, false
	}
	return id, true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
