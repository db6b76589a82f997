package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/handler"
	"github.com/larder/larder-backend/internal/inventory/memstore"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/i18n"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/permissions"
	"github.com/larder/larder-backend/pkg/testutil"
)

var testAuth = httputil.AuthConfig{Secret: "test-secret", Issuer: "larder", ElevatedPermission: permissions.InventoryAdmin}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *httputil.ErrorBody `json:"error"`
	Meta    *httputil.Meta      `json:"meta"`
}

type api struct {
	t       *testing.T
	router  http.Handler
	factory *testutil.FixtureFactory
	branch  string
	admin   string
	staff   string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	st := memstore.New()
	stores := service.Stores{Tx: st, Items: st, Batches: st, Portions: st, Ledger: st, Transfers: st, Users: st}
	log := logger.NewNop()
	pub := events.New(testutil.NewMockPublisher(), log)

	h := handler.New(handler.Services{
		Engine:    service.NewStockEngine(stores, pub, log),
		Catalog:   service.NewCatalogService(stores, pub, log),
		Transfers: service.NewTransferService(stores, pub, log),
		Ledger:    service.NewLedgerService(stores, pub, log),
		Query:     service.NewStockQuery(stores, pub, log),
	}, 20, 100, log)

	r := chi.NewRouter()
	r.Use(httputil.RequestID)
	r.Use(i18n.Middleware)
	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(httputil.Authenticate(testAuth, log))
		h.Routes(r)
	})

	factory := testutil.NewFixtureFactory()
	branch := factory.BranchID()
	a := &api{t: t, router: r, factory: factory, branch: branch}
	a.admin = a.token(factory.Admin(branch))
	a.staff = a.token(factory.Staff(branch))
	return a
}

func (a *api) token(who *actor.Actor) string {
	a.t.Helper()
	tok, err := httputil.SignToken(testAuth, who, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *api) do(method, path, token string, body interface{}) (int, envelope) {
	a.t.Helper()
	req := testutil.NewHTTPRequest(method, "/api/v1/inventory"+path, body)
	if token != "" {
		testutil.WithBearer(req, token)
	}
	rr := testutil.ExecuteRequest(a.router, req)
	var env envelope
	if rr.Code != http.StatusNoContent {
		testutil.ParseJSONBody(a.t, rr, &env)
	}
	return rr.Code, env
}

// must runs the request, requires want and decodes data into out.
func (a *api) must(want int, method, path, token string, body, out interface{}) envelope {
	a.t.Helper()
	code, env := a.do(method, path, token, body)
	require.Equal(a.t, want, code, "error: %+v", env.Error)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
	return env
}

func (a *api) item(tracking domain.TrackingType) domain.Item {
	a.t.Helper()
	var item domain.Item
	a.must(http.StatusCreated, http.MethodPost, "/items", a.admin, map[string]interface{}{
		"name": "Item " + a.factory.Code(), "code": a.factory.Code(), "unit": "kg", "tracking_type": tracking,
	}, &item)
	a.must(http.StatusOK, http.MethodPut, "/branches/"+a.branch+"/stock/"+item.ID, a.staff, map[string]interface{}{
		"is_stocked": true, "low_stock_threshold": "2",
	}, nil)
	return item
}

func (a *api) receive(item domain.Item, branch, qty string) service.Receipt {
	a.t.Helper()
	var r service.Receipt
	a.must(http.StatusCreated, http.MethodPost, "/batches", a.admin, map[string]interface{}{
		"item_id": item.ID, "branch_id": branch, "quantity": qty, "unit_cost": "2.00",
	}, &r)
	return r
}

func TestSaleAndStockLevels(t *testing.T) {
	a := newAPI(t)
	item := a.item(domain.TrackingByMeasure)
	receipt := a.receive(item, a.branch, "10")

	var change service.StockChange
	a.must(http.StatusCreated, http.MethodPost, "/deductions", a.staff, map[string]interface{}{
		"item_id": item.ID, "branch_id": a.branch, "sale_id": "s-1", "quantity": "8.5",
	}, &change)
	require.Len(t, change.Entries, 1)
	assert.Equal(t, receipt.Batch.ID, change.Entries[0].BatchID)

	var levels []domain.StockLevel
	a.must(http.StatusOK, http.MethodGet, "/branches/"+a.branch+"/levels", a.staff, nil, &levels)
	require.Len(t, levels, 1)
	assert.True(t, testutil.D("1.5").Equal(levels[0].OnHand))
	assert.Equal(t, domain.StockLow, levels[0].Status)

	var records []domain.LedgerRecord
	env := a.must(http.StatusOK, http.MethodGet, "/ledger?batch_id="+receipt.Batch.ID+"&action=DEDUCTED_FOR_SALE,BATCH_CREATED", a.staff, nil, &records)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(2), env.Meta.Total)
	assert.Equal(t, domain.ActionDeductedForSale, records[0].Action)

	code, env := a.do(http.MethodPost, "/deductions", a.staff, map[string]interface{}{
		"item_id": item.ID, "branch_id": a.branch, "sale_id": "s-1", "quantity": "1",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SALE_ALREADY_DEDUCTED", env.Error.Code)

	code, env = a.do(http.MethodPost, "/deductions", a.staff, map[string]interface{}{
		"item_id": item.ID, "branch_id": a.branch, "quantity": "2",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	assert.Contains(t, env.Error.Message, "available 1.50")
}

func TestAuthAndPermissions(t *testing.T) {
	a := newAPI(t)

	code, env := a.do(http.MethodGet, "/items", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	code, _ = a.do(http.MethodGet, "/items", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	reader := a.factory.Staff(a.branch)
	reader.Permissions = []string{permissions.InventoryRead}
	code, env = a.do(http.MethodPost, "/deductions", a.token(reader), map[string]interface{}{})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, env = a.do(http.MethodPost, "/items", a.staff, map[string]interface{}{
		"name": "Rice", "code": "RICE", "unit": "kg", "tracking_type": "BY_MEASURE",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)
}

func TestRequestValidation(t *testing.T) {
	a := newAPI(t)
	item := a.item(domain.TrackingByMeasure)

	code, env := a.do(http.MethodPost, "/batches", a.admin, map[string]interface{}{
		"item_id": item.ID, "branch_id": a.branch, "quantity": "0",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "quantity")

	code, env = a.do(http.MethodPost, "/batches", a.admin, `{"item_id": "x", "qty": 1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	code, env = a.do(http.MethodGet, "/ledger?from=yesterday", a.staff, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Details, "from")

	code, env = a.do(http.MethodGet, "/batches/not-a-uuid", a.staff, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestBatchEndpoints(t *testing.T) {
	a := newAPI(t)
	item := a.item(domain.TrackingByMeasure)
	receipt := a.receive(item, a.branch, "20")
	path := "/batches/" + receipt.Batch.ID

	var b domain.Batch
	a.must(http.StatusOK, http.MethodPatch, path, a.staff, map[string]interface{}{"label": "shelf B"}, &b)
	require.NotNil(t, b.Label)
	assert.Equal(t, "shelf B", *b.Label)

	code, env := a.do(http.MethodPatch, path, a.staff, map[string]interface{}{"batch_number": "OTHER"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "IMMUTABLE_FIELD_VIOLATION", env.Error.Code)

	code, env = a.do(http.MethodPost, path+"/correct", a.staff, map[string]interface{}{"corrected_quantity": "18", "reason": "recount"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)

	a.must(http.StatusOK, http.MethodPost, path+"/correct", a.admin, map[string]interface{}{"corrected_quantity": "18", "reason": "recount"}, &b)
	assert.True(t, testutil.D("18").Equal(b.RemainingQuantity))

	var batches []domain.Batch
	env = a.must(http.StatusOK, http.MethodGet, "/batches?item_id="+item.ID+"&available=true", a.staff, nil, &batches)
	assert.Len(t, batches, 1)
	assert.Equal(t, 1, env.Meta.Page)
	assert.Equal(t, 20, env.Meta.PerPage)
}

func TestTransferEndpoints(t *testing.T) {
	a := newAPI(t)
	item := a.item(domain.TrackingByMeasure)
	receipt := a.receive(item, a.branch, "10")
	dest := a.factory.BranchID()

	var tr domain.Transfer
	a.must(http.StatusCreated, http.MethodPost, "/transfers", a.staff, map[string]interface{}{
		"source_branch_id":      a.branch,
		"destination_branch_id": dest,
		"lines":                 []map[string]interface{}{{"item_id": item.ID, "batch_id": receipt.Batch.ID, "quantity": "4"}},
	}, &tr)
	require.Len(t, tr.Items, 1)
	assert.Equal(t, domain.TransferPending, tr.Status)

	code, env := a.do(http.MethodPost, "/transfers/"+tr.ID+"/receive", a.staff, map[string]interface{}{
		"lines": []map[string]interface{}{{"transfer_item_id": tr.Items[0].ID, "status": "RECEIVED", "received_quantity": "4"}},
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)

	receiver := a.token(a.factory.Staff(dest))
	a.must(http.StatusOK, http.MethodPost, "/transfers/"+tr.ID+"/receive", receiver, map[string]interface{}{
		"lines": []map[string]interface{}{{"transfer_item_id": tr.Items[0].ID, "status": "RECEIVED", "received_quantity": "4"}},
	}, &tr)
	assert.Equal(t, domain.TransferCompleted, tr.Status)

	code, env = a.do(http.MethodPost, "/transfers/"+tr.ID+"/cancel", a.staff, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TRANSFER_NOT_PENDING", env.Error.Code)

	var listed []domain.Transfer
	a.must(http.StatusOK, http.MethodGet, "/transfers?branch_id="+dest+"&status=COMPLETED", receiver, nil, &listed)
	assert.Len(t, listed, 1)

	var levels []domain.StockLevel
	a.must(http.StatusOK, http.MethodGet, "/branches/"+a.branch+"/levels", a.staff, nil, &levels)
	require.Len(t, levels, 1)
	assert.True(t, testutil.D("6").Equal(levels[0].OnHand))
}
