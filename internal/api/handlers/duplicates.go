package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
)

// DuplicatesHandler serves duplicate candidates.
type DuplicatesHandler struct {
	*Base
}

// NewDuplicatesHandler creates a new duplicates handler.
func NewDuplicatesHandler(svc *reconcile.Service) *DuplicatesHandler {
	return &DuplicatesHandler{Base: NewBase(svc)}
}

// List handles GET /api/duplicates?status=open
func (h *DuplicatesHandler) List(c *gin.Context) {
	status, ok := ParseStatusParam(c)
	if !ok {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid status filter"))
		return
	}

	candidates, err := h.svc.ListDuplicates(c.Request.Context(), status)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.DuplicateListResponse{Candidates: candidates, Count: len(candidates)})
}

// Confirm handles POST /api/duplicates/:id/confirm
func (h *DuplicatesHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmDuplicateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.ConfirmDuplicate(c.Request.Context(), c.Param("id"), req.Actor, req.AcknowledgeNear); err != nil {
		h.WriteServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Dismiss handles POST /api/duplicates/:id/dismiss
func (h *DuplicatesHandler) Dismiss(c *gin.Context) {
	var req dto.ActorRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.DismissDuplicate(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		h.WriteServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
