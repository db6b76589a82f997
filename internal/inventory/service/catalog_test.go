package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/memstore"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/testutil"
)

func TestCreateItem(t *testing.T) {
	fx := newFixture(t)

	err := fx.catalog.CreateItem(fx.ctx, fx.staff, &domain.Item{Name: "Rice", Code: "RICE", Unit: "kg", TrackingType: domain.TrackingByMeasure})
	assertCode(t, err, "PERMISSION_DENIED")

	err = fx.catalog.CreateItem(fx.ctx, fx.admin, &domain.Item{Name: "Rice", TrackingType: "BY_WEIGHT"})
	assertCode(t, err, "VALIDATION_ERROR")

	item := &domain.Item{Name: "Rice", Code: "RICE", Unit: "kg", TrackingType: domain.TrackingByMeasure}
	require.NoError(t, fx.catalog.CreateItem(fx.ctx, fx.admin, item))
	assert.NotEmpty(t, item.ID)

	err = fx.catalog.CreateItem(fx.ctx, fx.admin, &domain.Item{Name: "Rice 2", Code: "RICE", Unit: "kg", TrackingType: domain.TrackingByMeasure})
	assertCode(t, err, "CONFLICT")
}

func TestUpdateItem_TrackingTypeFrozenOnceStocked(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByMeasure, "0")

	changed := *item
	changed.TrackingType = domain.TrackingByPortion
	require.NoError(t, fx.catalog.UpdateItem(fx.ctx, fx.admin, &changed))

	fx.receive(t, &changed, fx.branch, "2", time.Hour)
	changed.TrackingType = domain.TrackingByMeasure
	err := fx.catalog.UpdateItem(fx.ctx, fx.admin, &changed)
	assertCode(t, err, "IMMUTABLE_FIELD_VIOLATION")

	changed.TrackingType = domain.TrackingByPortion
	changed.Name = "Renamed"
	require.NoError(t, fx.catalog.UpdateItem(fx.ctx, fx.admin, &changed))
	got, err := fx.catalog.GetItem(fx.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func TestReceiveBatch_Portioned(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByPortion, "0")

	r := fx.receive(t, item, fx.branch, "3", time.Hour)
	require.Len(t, r.Portions, 3)
	for i, p := range r.Portions {
		assert.Equal(t, domain.PortionUnused, p.Status)
		assert.True(t, strings.HasPrefix(p.Label, item.Code+"-"))
		assert.True(t, strings.HasSuffix(p.Label, []string{"-001", "-002", "-003"}[i]))
	}
	assert.Equal(t, domain.SourcePurchase, r.Batch.Source)
	assert.NotEmpty(t, r.Batch.BatchNumber)

	created := fx.entries(t, r.Batch.ID, domain.ActionBatchCreated)
	require.Len(t, created, 1)
	assert.True(t, details(t, created[0]).QuantityChange.Equal(testutil.D("3")))

	ev, ok := fx.events.Find(messaging.EventBatchReceived)
	require.True(t, ok)
	assert.Equal(t, 3, ev.Payload.(messaging.BatchReceivedEvent).Portions)

	view, err := fx.catalog.GetBatch(fx.ctx, r.Batch.ID)
	require.NoError(t, err)
	assert.True(t, view.OnHand.Equal(testutil.D("3")))
	assert.Len(t, view.Portions, 3)
}

// lockSpy records which item reads ran under a row lock.
type lockSpy struct {
	*memstore.Store
	mu     sync.Mutex
	shared []string
	plain  []string
}

func (s *lockSpy) ShareItem(ctx context.Context, id string) (*domain.Item, error) {
	s.mu.Lock()
	s.shared = append(s.shared, id)
	s.mu.Unlock()
	return s.Store.ShareItem(ctx, id)
}

func (s *lockSpy) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	s.mu.Lock()
	s.plain = append(s.plain, id)
	s.mu.Unlock()
	return s.Store.GetItem(ctx, id)
}

func TestReceiveBatch_ReadsItemUnderSharedLock(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByPortion, "0")

	spy := &lockSpy{Store: fx.store}
	stores := storesOf(fx.store)
	stores.Items = spy
	log := logger.NewNop()
	catalog := service.NewCatalogService(stores, events.New(testutil.NewMockPublisher(), log), log)

	_, err := catalog.ReceiveBatch(fx.ctx, fx.staff, service.ReceiveRequest{ItemID: item.ID, BranchID: fx.branch, Quantity: testutil.D("2")})
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, spy.shared)
	assert.Empty(t, spy.plain)
}

func TestListBatches_OnlyAvailable(t *testing.T) {
	fx := newFixture(t)
	measured := fx.item(t, domain.TrackingByMeasure, "0")
	portioned := fx.item(t, domain.TrackingByPortion, "0")

	drained := fx.receive(t, measured, fx.branch, "1", 4*time.Hour).Batch
	stocked := fx.receive(t, measured, fx.branch, "2", 3*time.Hour).Batch
	sold := fx.receive(t, portioned, fx.branch, "2", 2*time.Hour)
	open := fx.receive(t, portioned, fx.branch, "2", time.Hour)

	_, err := fx.engine.DeductForSale(fx.ctx, fx.staff, service.DeductRequest{
		ItemID: measured.ID, BranchID: fx.branch, Selection: domain.Selection{Quantity: testutil.D("1")},
	})
	require.NoError(t, err)
	_, err = fx.engine.DeductForSale(fx.ctx, fx.staff, service.DeductRequest{
		ItemID: portioned.ID, BranchID: fx.branch, Selection: domain.Selection{PortionIDs: portionIDs(sold.Portions)},
	})
	require.NoError(t, err)
	// Portion batches keep their remaining quantity; only the portions move.
	assertRemaining(t, fx.batch(t, sold.Batch.ID), "2")

	batches, total, err := fx.catalog.ListBatches(fx.ctx, domain.BatchFilter{BranchID: fx.branch, OnlyAvailable: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	assert.Equal(t, []string{stocked.ID, open.Batch.ID}, ids)
	assert.NotContains(t, ids, drained.ID)

	// Portions shipped to another branch leave nothing on hand here.
	dest := fx.factory.BranchID()
	tr, err := fx.transfers.Create(fx.ctx, fx.staff, service.CreateTransferRequest{
		SourceBranchID:      fx.branch,
		DestinationBranchID: dest,
		Lines:               []service.TransferLine{{ItemID: portioned.ID, BatchID: open.Batch.ID, PortionIDs: portionIDs(open.Portions)}},
	})
	require.NoError(t, err)
	require.Len(t, tr.Items, 2)

	_, total, err = fx.catalog.ListBatches(fx.ctx, domain.BatchFilter{BranchID: fx.branch, OnlyAvailable: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestReceiveBatch_Rejections(t *testing.T) {
	fx := newFixture(t)
	portioned := fx.item(t, domain.TrackingByPortion, "0")
	measured := fx.item(t, domain.TrackingByMeasure, "0")

	tests := []struct {
		name string
		req  service.ReceiveRequest
		code string
	}{
		{"fractional portions", service.ReceiveRequest{ItemID: portioned.ID, BranchID: fx.branch, Quantity: testutil.D("2.5")}, "INVALID_QUANTITY"},
		{"zero quantity", service.ReceiveRequest{ItemID: measured.ID, BranchID: fx.branch, Quantity: testutil.D("0")}, "INVALID_QUANTITY"},
		{"negative cost", service.ReceiveRequest{ItemID: measured.ID, BranchID: fx.branch, Quantity: testutil.D("1"), UnitCost: testutil.D("-1")}, "INVALID_QUANTITY"},
		{"unknown item", service.ReceiveRequest{ItemID: "d7c5e7d2-5a8e-4c1e-9d38-000000000000", BranchID: fx.branch, Quantity: testutil.D("1")}, "NOT_FOUND"},
		{"another branch", service.ReceiveRequest{ItemID: measured.ID, BranchID: fx.factory.BranchID(), Quantity: testutil.D("1")}, "PERMISSION_DENIED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.catalog.ReceiveBatch(fx.ctx, fx.staff, tt.req)
			assertCode(t, err, tt.code)
		})
	}

	batches, total, err := fx.catalog.ListBatches(fx.ctx, domain.BatchFilter{BranchID: fx.branch})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, batches)
}

func TestSetBranchStock(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByMeasure, "0")

	err := fx.catalog.SetBranchStock(fx.ctx, fx.staff, &domain.BranchStock{ItemID: item.ID, BranchID: fx.branch, IsStocked: true, LowStockThreshold: testutil.D("-1")})
	assertCode(t, err, "INVALID_QUANTITY")

	err = fx.catalog.SetBranchStock(fx.ctx, fx.factory.Staff(fx.factory.BranchID()), &domain.BranchStock{ItemID: item.ID, BranchID: fx.branch, IsStocked: true})
	assertCode(t, err, "PERMISSION_DENIED")

	require.NoError(t, fx.catalog.SetBranchStock(fx.ctx, fx.staff, &domain.BranchStock{ItemID: item.ID, BranchID: fx.branch, IsStocked: true, LowStockThreshold: testutil.D("7")}))
	settings, err := fx.catalog.ListBranchStock(fx.ctx, fx.branch)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.True(t, settings[0].LowStockThreshold.Equal(testutil.D("7")))
}
