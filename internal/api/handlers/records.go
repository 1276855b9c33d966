package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/domain/allocator"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// RecordsHandler serves per-record link and allocation operations.
type RecordsHandler struct {
	*Base
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(svc *reconcile.Service) *RecordsHandler {
	return &RecordsHandler{Base: NewBase(svc)}
}

// Unlink handles POST /api/records/:id/unlink
func (h *RecordsHandler) Unlink(c *gin.Context) {
	var req dto.UnlinkRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.svc.Unlink(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, entry)
}

// Link handles POST /api/records/:id/link
func (h *RecordsHandler) Link(c *gin.Context) {
	var req dto.LinkRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.svc.ManualLink(c.Request.Context(), c.Param("id"), req.TransactionKey, req.Actor)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, entry)
}

// Links handles GET /api/records/:id/links
func (h *RecordsHandler) Links(c *gin.Context) {
	recordID := c.Param("id")
	entries, err := h.svc.History(c.Request.Context(), recordID)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []model.LinkEntry{}
	}
	h.WriteJSON(c, http.StatusOK, dto.LinkHistoryResponse{RecordID: recordID, Entries: entries})
}

// CreateAllocations handles POST /api/records/:id/allocations.
// The body holds explicit parts, pro-rata shares or one supplementary part.
func (h *RecordsHandler) CreateAllocations(c *gin.Context) {
	var req dto.AllocationRequest
	if !h.BindJSON(c, &req) {
		return
	}

	set := 0
	for _, present := range []bool{len(req.Parts) > 0, len(req.Shares) > 0, req.Supplementary != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("exactly one of parts, shares or supplementary is required"))
		return
	}

	ctx := c.Request.Context()
	recordID := c.Param("id")

	var (
		allocations []model.Allocation
		err         error
	)
	switch {
	case len(req.Parts) > 0:
		allocations, err = h.svc.Split(ctx, recordID, req.Parts)
	case len(req.Shares) > 0:
		shares := make([]allocator.Share, 0, len(req.Shares))
		for _, s := range req.Shares {
			shares = append(shares, allocator.Share{
				LedgerCode:    s.LedgerCode,
				PaymentMethod: s.PaymentMethod,
				Memo:          s.Memo,
				Weight:        s.Weight,
			})
		}
		allocations, err = h.svc.SplitProRata(ctx, recordID, shares)
	default:
		allocations, err = h.svc.AddAllocation(ctx, recordID, *req.Supplementary, req.TakeFrom)
	}
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, dto.AllocationListResponse{RecordID: recordID, Allocations: allocations})
}

// ListAllocations handles GET /api/records/:id/allocations
func (h *RecordsHandler) ListAllocations(c *gin.Context) {
	recordID := c.Param("id")
	allocations, err := h.svc.ListAllocations(c.Request.Context(), recordID)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if allocations == nil {
		allocations = []model.Allocation{}
	}
	h.WriteJSON(c, http.StatusOK, dto.AllocationListResponse{RecordID: recordID, Allocations: allocations})
}

// DeleteAllocation handles DELETE /api/records/:id/allocations/:allocationId.
// ?fold_into=<allocation id> moves the removed amount into another allocation.
func (h *RecordsHandler) DeleteAllocation(c *gin.Context) {
	recordID := c.Param("id")
	allocations, err := h.svc.RemoveAllocation(c.Request.Context(), recordID, c.Param("allocationId"), c.Query("fold_into"))
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if allocations == nil {
		allocations = []model.Allocation{}
	}
	h.WriteJSON(c, http.StatusOK, dto.AllocationListResponse{RecordID: recordID, Allocations: allocations})
}
