package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps the domain sentinels onto HTTP statuses.
func RespondAppError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperr.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apperr.ErrNotResolvable):
		RespondError(c, http.StatusUnprocessableEntity, "not_resolvable", err)
	case errors.Is(err, apperr.ErrJobConflict):
		RespondError(c, http.StatusConflict, "job_conflict", err)
	case errors.Is(err, apperr.ErrConfigProtected):
		RespondError(c, http.StatusConflict, "config_protected", err)
	case errors.Is(err, apperr.ErrDuplicateContent):
		RespondError(c, http.StatusConflict, "duplicate_content", err)
	case errors.Is(err, apperr.ErrDimensionMismatch):
		RespondError(c, http.StatusConflict, "dimension_mismatch", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
