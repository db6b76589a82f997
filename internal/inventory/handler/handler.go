package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/permissions"
)

// Services are the inventory services the HTTP surface calls into.
type Services struct {
	Engine    *service.StockEngine
	Catalog   *service.CatalogService
	Transfers *service.TransferService
	Ledger    *service.LedgerService
	Query     *service.StockQuery
}

// Handler serves /api/v1/inventory
type Handler struct {
	Services
	defaultPerPage int
	maxPerPage     int
	logger         *logger.Logger
}

// New creates the inventory HTTP handler
func New(svcs Services, defaultPerPage, maxPerPage int, log *logger.Logger) *Handler {
	return &Handler{
		Services:       svcs,
		defaultPerPage: defaultPerPage,
		maxPerPage:     maxPerPage,
		logger:         log.WithComponent("http"),
	}
}

// Routes registers every inventory endpoint on r. Callers must have run
// httputil.Authenticate first.
func (h *Handler) Routes(r chi.Router) {
	read := httputil.RequirePermission(permissions.InventoryRead)
	write := httputil.RequirePermission(permissions.InventoryWrite)
	adjust := httputil.RequirePermission(permissions.InventoryAdjust)
	transfer := httputil.RequirePermission(permissions.InventoryTransfer)

	r.Route("/items", func(r chi.Router) {
		r.With(read).Get("/", h.ListItems)
		r.With(write).Post("/", h.CreateItem)
		r.With(read).Get("/{id}", h.GetItem)
		r.With(write).Put("/{id}", h.UpdateItem)
	})

	r.Route("/branches/{branchID}", func(r chi.Router) {
		r.With(read).Get("/stock", h.ListBranchStock)
		r.With(write).Put("/stock/{itemID}", h.SetBranchStock)
		r.With(read).Get("/levels", h.StockLevels)
		r.With(read).Get("/expiring", h.ExpiringBatches)
	})

	r.Route("/batches", func(r chi.Router) {
		r.With(read).Get("/", h.ListBatches)
		r.With(write).Post("/", h.ReceiveBatch)
		r.With(read).Get("/{id}", h.GetBatch)
		r.With(write).Patch("/{id}", h.UpdateBatch)
		r.With(adjust).Post("/{id}/correct", h.CorrectBatchCount)
	})

	r.With(write).Post("/deductions", h.DeductForSale)
	r.With(adjust).Post("/adjustments", h.RecordAdjustment)
	r.With(adjust).Post("/restorations/portions", h.RestorePortions)
	r.With(adjust).Post("/restorations/quantity", h.RestoreQuantity)

	r.Route("/transfers", func(r chi.Router) {
		r.With(read).Get("/", h.ListTransfers)
		r.With(transfer).Post("/", h.CreateTransfer)
		r.With(read).Get("/{id}", h.GetTransfer)
		r.With(transfer).Post("/{id}/receive", h.ReceiveTransfer)
		r.With(transfer).Post("/{id}/cancel", h.CancelTransfer)
		r.With(transfer).Post("/{id}/reject", h.RejectTransfer)
	})

	r.Route("/ledger", func(r chi.Router) {
		r.With(read).Get("/", h.SearchLedger)
		r.With(read).Get("/{id}", h.GetLedgerEntry)
	})
}

// caller returns the authenticated actor or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (*actor.Actor, bool) {
	a := actor.FromContext(r.Context())
	if a == nil {
		httputil.Error(w, r, errors.Unauthorized("authentication required"))
		return nil, false
	}
	return a, true
}

// bind decodes and validates the body, writing the error response on failure.
func bind(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.Error(w, r, err)
		return false
	}
	if err := httputil.Validate(v); err != nil {
		httputil.Error(w, r, err)
		return false
	}
	return true
}

func (h *Handler) page(r *http.Request) domain.Page {
	page, perPage := httputil.Pagination(r, h.defaultPerPage, h.maxPerPage)
	return domain.Page{Page: page, PerPage: perPage}
}

func list(w http.ResponseWriter, data interface{}, p domain.Page, total int) {
	httputil.JSONWithMeta(w, http.StatusOK, data, httputil.NewMeta(p.Page, p.PerPage, int64(total)))
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.Validation(map[string]string{name: "must be an RFC 3339 timestamp"})
	}
	return &t, nil
}

func boolParam(r *http.Request, name string) bool {
	v := strings.ToLower(r.URL.Query().Get(name))
	return v == "true" || v == "1"
}
