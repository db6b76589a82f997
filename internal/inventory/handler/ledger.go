package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/httputil"
)

// SearchLedger lists ledger entries newest first. action takes a comma
// separated list; q matches item, batch, portion and user names.
func (h *Handler) SearchLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.LedgerFilter{
		BatchID:   q.Get("batch_id"),
		PortionID: q.Get("portion_id"),
		ItemID:    q.Get("item_id"),
		BranchID:  q.Get("branch_id"),
		SaleID:    q.Get("sale_id"),
		Search:    q.Get("q"),
		Page:      h.page(r),
	}
	if raw := q.Get("action"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			f.Actions = append(f.Actions, domain.LogAction(strings.TrimSpace(a)))
		}
	}

	var err error
	if f.From, err = timeParam(r, "from"); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if f.To, err = timeParam(r, "to"); err != nil {
		httputil.Error(w, r, err)
		return
	}

	records, total, err := h.Ledger.Search(r.Context(), f)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	list(w, records, f.Page, total)
}

// GetLedgerEntry gets one ledger entry
func (h *Handler) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, e)
}
