package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// IntegrityHandler reports balance mismatches and ledger drift. Both are
// read-only; repairs go through the CLI.
type IntegrityHandler struct {
	*Base
}

// NewIntegrityHandler creates a new integrity handler.
func NewIntegrityHandler(svc *reconcile.Service) *IntegrityHandler {
	return &IntegrityHandler{Base: NewBase(svc)}
}

// Mismatches handles GET /api/balances/mismatches
func (h *IntegrityHandler) Mismatches(c *gin.Context) {
	mismatches, err := h.svc.ValidateBalances(c.Request.Context())
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if mismatches == nil {
		mismatches = []model.BalanceMismatch{}
	}
	h.WriteJSON(c, http.StatusOK, dto.MismatchListResponse{Mismatches: mismatches, Count: len(mismatches)})
}

// Drift handles GET /api/ledger/drift
func (h *IntegrityHandler) Drift(c *gin.Context) {
	drift, err := h.svc.Drift(c.Request.Context())
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if drift == nil {
		drift = []ledger.Drift{}
	}
	h.WriteJSON(c, http.StatusOK, dto.DriftResponse{Drift: drift, Count: len(drift)})
}
