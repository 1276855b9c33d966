package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

// RunsHandler serves persisted batch run history.
type RunsHandler struct {
	*Base
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(svc *reconcile.Service) *RunsHandler {
	return &RunsHandler{Base: NewBase(svc)}
}

// List handles GET /api/runs - returns recent batch runs.
func (h *RunsHandler) List(c *gin.Context) {
	limit := ParseIntParam(c, "limit", 20)

	runs, err := h.svc.ListBatchRuns(c.Request.Context(), limit)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if runs == nil {
		runs = []storage.BatchRun{}
	}
	h.WriteJSON(c, http.StatusOK, dto.BatchRunListResponse{Runs: runs, Count: len(runs)})
}

// Get handles GET /api/runs/:id - returns a single batch run by ID.
func (h *RunsHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid run ID"))
		return
	}

	run, err := h.svc.GetBatchRun(c.Request.Context(), id)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, run)
}
