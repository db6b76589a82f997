package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/httputil"
)

// ListBatches lists batches, filtered by item_id, branch_id, available and with_expiry
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.BatchFilter{
		ItemID:        q.Get("item_id"),
		BranchID:      q.Get("branch_id"),
		OnlyAvailable: boolParam(r, "available"),
		WithExpiry:    boolParam(r, "with_expiry"),
		Page:          h.page(r),
	}

	batches, total, err := h.Catalog.ListBatches(r.Context(), f)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	list(w, batches, f.Page, total)
}

// GetBatch gets a batch with its portions and on-hand stock
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	view, err := h.Catalog.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// ReceiveBatch books a delivery into stock
func (h *Handler) ReceiveBatch(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemID         string          `json:"item_id" validate:"required,uuid"`
		BranchID       string          `json:"branch_id" validate:"required"`
		BatchNumber    string          `json:"batch_number,omitempty" validate:"max=64"`
		Label          *string         `json:"label,omitempty"`
		Source         string          `json:"source,omitempty"`
		Quantity       decimal.Decimal `json:"quantity" validate:"dpositive"`
		UnitCost       decimal.Decimal `json:"unit_cost" validate:"dnonnegative"`
		ReceivedAt     *time.Time      `json:"received_at,omitempty"`
		ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	}
	if !bind(w, r, &req) {
		return
	}

	receipt, err := h.Catalog.ReceiveBatch(r.Context(), a, service.ReceiveRequest{
		ItemID:         req.ItemID,
		BranchID:       req.BranchID,
		BatchNumber:    req.BatchNumber,
		Label:          req.Label,
		Source:         req.Source,
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		ReceivedAt:     req.ReceivedAt,
		ExpirationDate: req.ExpirationDate,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.Created(w, receipt)
}

// UpdateBatch edits descriptive batch fields. Sending batch_number,
// quantity_received, branch_id or item_id with a different value fails.
func (h *Handler) UpdateBatch(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Label               *string          `json:"label,omitempty"`
		Source              *string          `json:"source,omitempty"`
		UnitCost            *decimal.Decimal `json:"unit_cost,omitempty"`
		ExpirationDate      *time.Time       `json:"expiration_date,omitempty"`
		ClearExpirationDate bool             `json:"clear_expiration_date,omitempty"`
		BatchNumber         *string          `json:"batch_number,omitempty"`
		QuantityReceived    *decimal.Decimal `json:"quantity_received,omitempty"`
		BranchID            *string          `json:"branch_id,omitempty"`
		ItemID              *string          `json:"item_id,omitempty"`
	}
	if !bind(w, r, &req) {
		return
	}

	b, err := h.Engine.UpdateBatch(r.Context(), a, chi.URLParam(r, "id"), service.BatchUpdate{
		Label:               req.Label,
		Source:              req.Source,
		UnitCost:            req.UnitCost,
		ExpirationDate:      req.ExpirationDate,
		ClearExpirationDate: req.ClearExpirationDate,
		BatchNumber:         req.BatchNumber,
		QuantityReceived:    req.QuantityReceived,
		BranchID:            req.BranchID,
		ItemID:              req.ItemID,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, b)
}

// CorrectBatchCount replaces a measured batch's received quantity after a recount
func (h *Handler) CorrectBatchCount(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		CorrectedQuantity decimal.Decimal `json:"corrected_quantity" validate:"dnonnegative"`
		Reason            string          `json:"reason" validate:"required,max=500"`
	}
	if !bind(w, r, &req) {
		return
	}

	b, err := h.Engine.CorrectBatchCount(r.Context(), a, chi.URLParam(r, "id"), req.CorrectedQuantity, req.Reason)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, b)
}
