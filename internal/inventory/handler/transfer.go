package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/httputil"
)

type transferLineRequest struct {
	ItemID     string          `json:"item_id" validate:"required,uuid"`
	BatchID    string          `json:"batch_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	PortionIDs []string        `json:"portion_ids,omitempty" validate:"dive,uuid"`
}

// CreateTransfer ships stock from one branch to another
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		SourceBranchID      string                `json:"source_branch_id" validate:"required"`
		DestinationBranchID string                `json:"destination_branch_id" validate:"required"`
		Notes               *string               `json:"notes,omitempty"`
		Lines               []transferLineRequest `json:"lines" validate:"required,min=1,dive"`
	}
	if !bind(w, r, &req) {
		return
	}

	lines := make([]service.TransferLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = service.TransferLine{
			ItemID:     l.ItemID,
			BatchID:    l.BatchID,
			Quantity:   l.Quantity,
			PortionIDs: l.PortionIDs,
		}
	}

	t, err := h.Transfers.Create(r.Context(), a, service.CreateTransferRequest{
		SourceBranchID:      req.SourceBranchID,
		DestinationBranchID: req.DestinationBranchID,
		Notes:               req.Notes,
		Lines:               lines,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.Created(w, t)
}

// GetTransfer gets a transfer with its lines
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

// ListTransfers lists transfers touching branch_id, optionally by status
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.TransferFilter{
		BranchID: q.Get("branch_id"),
		Status:   domain.TransferStatus(q.Get("status")),
		Page:     h.page(r),
	}

	transfers, total, err := h.Transfers.List(r.Context(), f)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	list(w, transfers, f.Page, total)
}

// ReceiveTransfer records the destination's verdict on some or all lines
func (h *Handler) ReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Lines []struct {
			TransferItemID   string                 `json:"transfer_item_id" validate:"required,uuid"`
			Status           domain.ReceptionStatus `json:"status" validate:"required,oneof=RECEIVED RECEIVED_WITH_ISSUES REJECTED"`
			ReceivedQuantity *decimal.Decimal       `json:"received_quantity,omitempty"`
			Notes            *string                `json:"notes,omitempty"`
		} `json:"lines" validate:"required,min=1,dive"`
	}
	if !bind(w, r, &req) {
		return
	}

	receptions := make([]service.LineReception, len(req.Lines))
	for i, l := range req.Lines {
		receptions[i] = service.LineReception{
			TransferItemID:   l.TransferItemID,
			Status:           l.Status,
			ReceivedQuantity: l.ReceivedQuantity,
			Notes:            l.Notes,
		}
	}

	t, err := h.Transfers.Receive(r.Context(), a, chi.URLParam(r, "id"), receptions)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

// CancelTransfer withdraws a pending transfer at the source
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	t, err := h.Transfers.Cancel(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

// RejectTransfer refuses a whole pending transfer at the destination
func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	t, err := h.Transfers.Reject(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}
