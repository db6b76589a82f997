package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/httputil"
)

// DeductForSale takes stock for one sale line
func (h *Handler) DeductForSale(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemID     string          `json:"item_id" validate:"required,uuid"`
		BranchID   string          `json:"branch_id" validate:"required"`
		SaleID     string          `json:"sale_id,omitempty" validate:"max=100"`
		Quantity   decimal.Decimal `json:"quantity"`
		PortionIDs []string        `json:"portion_ids,omitempty" validate:"dive,uuid"`
	}
	if !bind(w, r, &req) {
		return
	}

	change, err := h.Engine.DeductForSale(r.Context(), a, service.DeductRequest{
		ItemID:    req.ItemID,
		BranchID:  req.BranchID,
		SaleID:    req.SaleID,
		Selection: domain.Selection{Quantity: req.Quantity, PortionIDs: req.PortionIDs},
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.Created(w, change)
}

// RecordAdjustment writes off stock from one batch or a set of portions
func (h *Handler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Type       domain.AdjustmentType `json:"type" validate:"required"`
		BranchID   string                `json:"branch_id" validate:"required"`
		ItemID     string                `json:"item_id,omitempty"`
		BatchID    string                `json:"batch_id,omitempty"`
		Quantity   decimal.Decimal       `json:"quantity"`
		PortionIDs []string              `json:"portion_ids,omitempty" validate:"dive,uuid"`
		Reason     string                `json:"reason,omitempty" validate:"max=500"`
	}
	if !bind(w, r, &req) {
		return
	}

	change, err := h.Engine.RecordAdjustment(r.Context(), a, service.AdjustmentRequest{
		Type:       req.Type,
		BranchID:   req.BranchID,
		ItemID:     req.ItemID,
		BatchID:    req.BatchID,
		Quantity:   req.Quantity,
		PortionIDs: req.PortionIDs,
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.Created(w, change)
}

// RestorePortions reverses the latest adjustment of each portion
func (h *Handler) RestorePortions(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		PortionIDs []string `json:"portion_ids" validate:"required,min=1,dive,uuid"`
		Reason     string   `json:"reason" validate:"required,max=500"`
	}
	if !bind(w, r, &req) {
		return
	}

	change, err := h.Engine.RestorePortions(r.Context(), a, req.PortionIDs, req.Reason)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, change)
}

// RestoreQuantity returns amounts written off by earlier adjustments of a measured batch
func (h *Handler) RestoreQuantity(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		BatchID string                  `json:"batch_id" validate:"required,uuid"`
		Sources []domain.RestoredAmount `json:"sources" validate:"required,min=1"`
		Reason  string                  `json:"reason" validate:"required,max=500"`
	}
	if !bind(w, r, &req) {
		return
	}

	change, err := h.Engine.RestoreQuantity(r.Context(), a, service.RestoreQuantityRequest{
		BatchID: req.BatchID,
		Sources: req.Sources,
		Reason:  req.Reason,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, change)
}

// StockLevels reports on-hand stock for every item stocked at the branch
func (h *Handler) StockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.Query.StockLevels(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, levels)
}

// ExpiringBatches lists batches at the branch that are expired or about to expire
func (h *Handler) ExpiringBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Query.ExpiringBatches(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batches)
}
