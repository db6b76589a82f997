package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/httputil"
)

type itemRequest struct {
	Name                   string              `json:"name" validate:"required,max=200"`
	Code                   string              `json:"code" validate:"required,max=64"`
	Category               *string             `json:"category,omitempty"`
	Unit                   string              `json:"unit" validate:"required,max=32"`
	TrackingType           domain.TrackingType `json:"tracking_type" validate:"required,oneof=BY_PORTION BY_MEASURE"`
	DaysToWarnBeforeExpiry int                 `json:"days_to_warn_before_expiry" validate:"gte=0"`
}

func (req itemRequest) item(id string) *domain.Item {
	return &domain.Item{
		ID:                     id,
		Name:                   req.Name,
		Code:                   req.Code,
		Category:               req.Category,
		Unit:                   req.Unit,
		TrackingType:           req.TrackingType,
		DaysToWarnBeforeExpiry: req.DaysToWarnBeforeExpiry,
	}
}

// ListItems lists catalog items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ItemFilter{
		Search:       q.Get("q"),
		Category:     q.Get("category"),
		TrackingType: domain.TrackingType(q.Get("tracking_type")),
		Page:         h.page(r),
	}

	items, total, err := h.Catalog.ListItems(r.Context(), f)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	list(w, items, f.Page, total)
}

// GetItem gets an item by ID
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, item)
}

// CreateItem adds an item to the catalog
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !bind(w, r, &req) {
		return
	}

	item := req.item("")
	if err := h.Catalog.CreateItem(r.Context(), a, item); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.Created(w, item)
}

// UpdateItem replaces an item's fields
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !bind(w, r, &req) {
		return
	}

	item := req.item(chi.URLParam(r, "id"))
	if err := h.Catalog.UpdateItem(r.Context(), a, item); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, item)
}

// ListBranchStock lists the stock settings of a branch
func (h *Handler) ListBranchStock(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Catalog.ListBranchStock(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, settings)
}

// SetBranchStock stocks or unstocks an item at a branch
func (h *Handler) SetBranchStock(w http.ResponseWriter, r *http.Request) {
	a, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		IsStocked         bool            `json:"is_stocked"`
		LowStockThreshold decimal.Decimal `json:"low_stock_threshold" validate:"dnonnegative"`
	}
	if !bind(w, r, &req) {
		return
	}

	bs := &domain.BranchStock{
		ItemID:            chi.URLParam(r, "itemID"),
		BranchID:          chi.URLParam(r, "branchID"),
		IsStocked:         req.IsStocked,
		LowStockThreshold: req.LowStockThreshold,
	}
	if err := h.Catalog.SetBranchStock(r.Context(), a, bs); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, bs)
}
