package api

import (
	"errors"
	"net/http"

	"dialoque/server/internal/conversation"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/service"
	"dialoque/server/internal/summarize"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors to HTTP status codes. Unknown errors are
// internal.
func statusFor(err error) int {
	var providerErr *summarize.ProviderError
	var convErr *conversation.ConversationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrUnsupportedModel),
		errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrDocumentsRequired),
		errors.Is(err, service.ErrTitleRequired),
		errors.Is(err, service.ErrPromptInvalid),
		errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrNoActiveAssignment):
		return http.StatusBadRequest
	case errors.Is(err, summarize.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.As(err, &providerErr), errors.As(err, &convErr):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrUserAlreadyExists),
		errors.Is(err, service.ErrAssignmentIncomplete),
		errors.Is(err, service.ErrBriefMissing):
		return http.StatusConflict
	case errors.Is(err, service.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountInactive),
		errors.Is(err, service.ErrSelfModification):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError aborts with the mapped status. Internal errors get the
// generic fallback message instead of err's text.
func respondError(c *gin.Context, err error, fallback string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		abortWithError(c, code, fallback)
		return
	}
	abortWithError(c, code, err.Error())
}
