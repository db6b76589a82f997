package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/memstore"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/testutil"
)

type fixture struct {
	ctx       context.Context
	store     *memstore.Store
	events    *testutil.MockPublisher
	engine    *service.StockEngine
	catalog   *service.CatalogService
	transfers *service.TransferService
	ledger    *service.LedgerService
	query     *service.StockQuery
	factory   *testutil.FixtureFactory

	branch string
	admin  *actor.Actor
	staff  *actor.Actor
}

func storesOf(st *memstore.Store) service.Stores {
	return service.Stores{
		Tx:        st,
		Items:     st,
		Batches:   st,
		Portions:  st,
		Ledger:    st,
		Transfers: st,
		Users:     st,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	mock := testutil.NewMockPublisher()
	log := logger.NewNop()
	pub := events.New(mock, log)
	stores := storesOf(st)
	factory := testutil.NewFixtureFactory()
	branch := factory.BranchID()

	return &fixture{
		ctx:       context.Background(),
		store:     st,
		events:    mock,
		engine:    service.NewStockEngine(stores, pub, log),
		catalog:   service.NewCatalogService(stores, pub, log),
		transfers: service.NewTransferService(stores, pub, log),
		ledger:    service.NewLedgerService(stores, pub, log),
		query:     service.NewStockQuery(stores, pub, log),
		factory:   factory,
		branch:    branch,
		admin:     factory.Admin(branch),
		staff:     factory.Staff(branch),
	}
}

// item creates an item stocked at the fixture branch with the given threshold.
func (fx *fixture) item(t *testing.T, tracking domain.TrackingType, threshold string) *domain.Item {
	t.Helper()
	item := &domain.Item{
		Name:                   "Item " + fx.factory.Code(),
		Code:                   fx.factory.Code(),
		Unit:                   "kg",
		TrackingType:           tracking,
		DaysToWarnBeforeExpiry: 3,
	}
	if tracking == domain.TrackingByPortion {
		item.Unit = "pcs"
	}
	require.NoError(t, fx.catalog.CreateItem(fx.ctx, fx.admin, item))
	fx.stock(t, item, fx.branch, threshold)
	return item
}

func (fx *fixture) stock(t *testing.T, item *domain.Item, branch, threshold string) {
	t.Helper()
	require.NoError(t, fx.catalog.SetBranchStock(fx.ctx, fx.factory.Admin(branch), &domain.BranchStock{
		ItemID:            item.ID,
		BranchID:          branch,
		IsStocked:         true,
		LowStockThreshold: testutil.D(threshold),
	}))
}

// receive books qty of item at branch, received age ago.
func (fx *fixture) receive(t *testing.T, item *domain.Item, branch, qty string, age time.Duration) *service.Receipt {
	t.Helper()
	receivedAt := time.Now().UTC().Add(-age)
	r, err := fx.catalog.ReceiveBatch(fx.ctx, fx.factory.Admin(branch), service.ReceiveRequest{
		ItemID:     item.ID,
		BranchID:   branch,
		Quantity:   testutil.D(qty),
		UnitCost:   testutil.D("1.50"),
		ReceivedAt: &receivedAt,
	})
	require.NoError(t, err)
	return r
}

func (fx *fixture) batch(t *testing.T, id string) *domain.Batch {
	t.Helper()
	b, err := fx.store.GetBatch(fx.ctx, id)
	require.NoError(t, err)
	return b
}

func (fx *fixture) portion(t *testing.T, id string) *domain.Portion {
	t.Helper()
	p, err := fx.store.GetPortion(fx.ctx, id)
	require.NoError(t, err)
	return p
}

func (fx *fixture) entries(t *testing.T, batchID string, actions ...domain.LogAction) []domain.LedgerEntry {
	t.Helper()
	out, err := fx.store.BatchEntries(fx.ctx, batchID, actions...)
	require.NoError(t, err)
	return out
}

func details(t *testing.T, e domain.LedgerEntry) *domain.Details {
	t.Helper()
	d, err := domain.DecodeDetails(e.Details)
	require.NoError(t, err)
	return d
}

func portionIDs(ps []domain.Portion) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, errors.Code(err), "unexpected error: %v", err)
}

func assertRemaining(t *testing.T, b *domain.Batch, want string) {
	t.Helper()
	assert.True(t, testutil.D(want).Equal(b.RemainingQuantity), "remaining = %s, want %s", b.RemainingQuantity, want)
}
