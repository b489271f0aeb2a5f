package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/service"

	"github.com/gin-gonic/gin"
)

type LecturerHandler struct {
	lecturerService service.LecturerService
	maxUploadBytes  int64
}

func NewLecturerHandler(lecturerService service.LecturerService, maxUploadBytes int64) *LecturerHandler {
	return &LecturerHandler{lecturerService: lecturerService, maxUploadBytes: maxUploadBytes}
}

// --- DTOs ---

type SummaryRequest struct {
	Model string `json:"model"`
}

type PromptRequest struct {
	Title           string `json:"title" binding:"required,max=200"`
	PromptText      string `json:"promptText" binding:"required"`
	ExampleResponse string `json:"exampleResponse"`
	DisplayOrder    int    `json:"displayOrder" binding:"min=0"`
}

func (r PromptRequest) input() service.PromptInput {
	return service.PromptInput{
		Title:           r.Title,
		PromptText:      r.PromptText,
		ExampleResponse: r.ExampleResponse,
		DisplayOrder:    r.DisplayOrder,
	}
}

// --- Handler Methods ---

func (h *LecturerHandler) ListAssignments(c *gin.Context) {
	assignments, err := h.lecturerService.ListAssignments(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to retrieve assignments.")
		return
	}
	if assignments == nil {
		assignments = []domain.Assignment{}
	}
	c.JSON(http.StatusOK, assignments)
}

func (h *LecturerHandler) GetAssignment(c *gin.Context) {
	assignment, err := h.lecturerService.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve assignment.")
		return
	}
	c.JSON(http.StatusOK, assignment)
}

// CreateAssignment takes a multipart form: title, description, label1..4
// and the files doc1..doc4.
func (h *LecturerHandler) CreateAssignment(c *gin.Context) {
	limitBody(c, h.maxUploadBytes)
	in := service.CreateAssignmentInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
	}
	for i := range in.Documents {
		slot := i + 1
		f, err := formFile(c, fmt.Sprintf("doc%d", slot), h.maxUploadBytes)
		if err != nil {
			uploadError(c, err)
			return
		}
		in.Documents[i] = service.DocumentUpload{Label: c.PostForm(fmt.Sprintf("label%d", slot)), File: f}
	}

	assignment, err := h.lecturerService.CreateAssignment(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "Failed to create assignment.")
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

// UpdateAssignment takes the same form as CreateAssignment; files are
// optional and replace only their slot.
func (h *LecturerHandler) UpdateAssignment(c *gin.Context) {
	limitBody(c, h.maxUploadBytes)
	in := service.UpdateAssignmentInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
	}
	for i := range in.Files {
		slot := i + 1
		f, err := formFile(c, fmt.Sprintf("doc%d", slot), h.maxUploadBytes)
		if err != nil {
			uploadError(c, err)
			return
		}
		in.Files[i] = f
		in.Labels[i] = c.PostForm(fmt.Sprintf("label%d", slot))
	}

	assignment, err := h.lecturerService.UpdateAssignment(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err, "Failed to update assignment.")
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (h *LecturerHandler) DeleteAssignment(c *gin.Context) {
	if err := h.lecturerService.DeleteAssignment(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete assignment.")
		return
	}
	c.Status(http.StatusNoContent)
}

// SummarizeBrief summarizes document 1 with the requested model.
func (h *LecturerHandler) SummarizeBrief(c *gin.Context) {
	var req SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	if req.Model == "" {
		req.Model = llm.DefaultSummaryModel
	}
	doc, err := h.lecturerService.SummarizeBrief(c.Request.Context(), c.Param("id"), req.Model)
	if err != nil {
		respondError(c, err, "Failed to summarise document.")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *LecturerHandler) ListSubmissions(c *gin.Context) {
	submissions, err := h.lecturerService.ListSubmissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve submissions.")
		return
	}
	if submissions == nil {
		submissions = []domain.StudentSubmission{}
	}
	c.JSON(http.StatusOK, submissions)
}

func (h *LecturerHandler) DownloadDocument(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 1 || slot > domain.DocumentSlots {
		abortWithError(c, http.StatusNotFound, service.ErrNotFound.Error())
		return
	}
	dl, err := h.lecturerService.DownloadDocument(c.Request.Context(), c.Param("id"), slot)
	if err != nil {
		respondError(c, err, "Failed to download document.")
		return
	}
	sendFile(c, dl)
}

func (h *LecturerHandler) AddPrompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	prompt, err := h.lecturerService.AddPrompt(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		respondError(c, err, "Failed to add prompt.")
		return
	}
	c.JSON(http.StatusCreated, prompt)
}

func (h *LecturerHandler) UpdatePrompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	prompt, err := h.lecturerService.UpdatePrompt(c.Request.Context(), c.Param("id"), c.Param("promptId"), req.input())
	if err != nil {
		respondError(c, err, "Failed to update prompt.")
		return
	}
	c.JSON(http.StatusOK, prompt)
}

func (h *LecturerHandler) DeletePrompt(c *gin.Context) {
	if err := h.lecturerService.DeletePrompt(c.Request.Context(), c.Param("id"), c.Param("promptId")); err != nil {
		respondError(c, err, "Failed to delete prompt.")
		return
	}
	c.Status(http.StatusNoContent)
}
