package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
)

// ReviewHandler serves the manual-review queue.
type ReviewHandler struct {
	*Base
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(svc *reconcile.Service) *ReviewHandler {
	return &ReviewHandler{Base: NewBase(svc)}
}

// List handles GET /api/review?status=open
func (h *ReviewHandler) List(c *gin.Context) {
	status, ok := ParseStatusParam(c)
	if !ok {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid status filter"))
		return
	}

	items, err := h.svc.ListReview(c.Request.Context(), status)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.ReviewListResponse{Items: items, Count: len(items)})
}

// Confirm handles POST /api/review/:id/confirm and returns the link entry.
func (h *ReviewHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmReviewRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.svc.ConfirmReview(c.Request.Context(), c.Param("id"), req.Actor, req.TransactionKey)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, entry)
}

// Reject handles POST /api/review/:id/reject
func (h *ReviewHandler) Reject(c *gin.Context) {
	var req dto.ActorRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.RejectReview(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		h.WriteServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
