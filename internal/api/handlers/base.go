package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// Base provides shared functionality for all handlers.
type Base struct {
	svc *reconcile.Service
}

// NewBase creates a new base handler with the given service.
func NewBase(svc *reconcile.Service) *Base {
	return &Base{svc: svc}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(c *gin.Context, status int, err dto.APIError) {
	c.AbortWithStatusJSON(status, err)
}

// WriteServiceError maps a service error onto a status code and error body.
func (b *Base) WriteServiceError(c *gin.Context, err error) {
	_ = c.Error(err)

	var mismatch *model.AllocationMismatchError
	switch {
	case errors.As(err, &mismatch):
		b.WriteError(c, http.StatusUnprocessableEntity, dto.MismatchError(mismatch.Error(), mismatch.Diff))
	case errors.Is(err, model.ErrNotFound):
		b.WriteError(c, http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, err.Error()))
	case errors.Is(err, model.ErrMalformedRecord):
		b.WriteError(c, http.StatusBadRequest, dto.ValidationError(err.Error()))
	case errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrAlreadyLinked),
		errors.Is(err, model.ErrNoActiveLink),
		errors.Is(err, model.ErrAlreadySplit),
		errors.Is(err, model.ErrPrimaryAllocation):
		b.WriteError(c, http.StatusConflict, dto.ConflictError(err.Error()))
	default:
		b.WriteError(c, http.StatusInternalServerError, dto.InternalError())
	}
}

// BindJSON decodes the request body and writes a 400 on failure.
func (b *Base) BindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		b.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(c *gin.Context, name string, defaultVal int) int {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// ParseStatusParam reads the status filter, defaulting to open.
func ParseStatusParam(c *gin.Context) (model.CandidateStatus, bool) {
	status := model.CandidateStatus(c.DefaultQuery("status", string(model.CandidateOpen)))
	switch status {
	case model.CandidateOpen, model.CandidateConfirmed, model.CandidateDismissed, model.CandidateRejected:
		return status, true
	}
	return "", false
}
