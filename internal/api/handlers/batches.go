package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/application/service"
)

// BatchHandler starts and tracks background batches.
type BatchHandler struct {
	batches *service.BatchService
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(batches *service.BatchService) *BatchHandler {
	return &BatchHandler{batches: batches}
}

// Start handles POST /api/batches - starts a batch over pending records.
// The body is optional.
func (h *BatchHandler) Start(c *gin.Context) {
	var req dto.StartBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.BadRequestError("invalid request body: "+err.Error()))
			return
		}
	}
	if req.Workers < 0 || req.TimeoutSeconds < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ValidationError("workers and timeout_seconds must not be negative"))
		return
	}

	opts := reconcile.RunOptions{
		Actor:   req.Actor,
		Workers: req.Workers,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	}
	job, err := h.batches.StartBatch(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, service.ErrBatchRunning) {
			c.AbortWithStatusJSON(http.StatusConflict, dto.NewAPIError(dto.ErrCodeBusy, err.Error()))
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.InternalError())
		return
	}
	c.JSON(http.StatusAccepted, dto.BatchJobResponse{Job: *job})
}

// List handles GET /api/batches
func (h *BatchHandler) List(c *gin.Context) {
	jobs := h.batches.ListBatches()
	c.JSON(http.StatusOK, dto.BatchJobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Get handles GET /api/batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	job, err := h.batches.GetBatch(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, dto.NotFoundError("batch job"))
		return
	}
	c.JSON(http.StatusOK, dto.BatchJobResponse{Job: *job})
}

// Cancel handles DELETE /api/batches/:id
func (h *BatchHandler) Cancel(c *gin.Context) {
	err := h.batches.CancelBatch(c.Param("id"))
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, dto.NotFoundError("batch job"))
	case err != nil:
		c.AbortWithStatusJSON(http.StatusConflict, dto.ConflictError(err.Error()))
	default:
		c.Status(http.StatusNoContent)
	}
}
