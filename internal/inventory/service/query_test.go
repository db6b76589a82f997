package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/testutil"
)

func TestStockLevels(t *testing.T) {
	fx := newFixture(t)
	flour := fx.item(t, domain.TrackingByMeasure, "5")
	buns := fx.item(t, domain.TrackingByPortion, "1")
	salt := fx.item(t, domain.TrackingByMeasure, "1")

	fx.receive(t, flour, fx.branch, "3", 2*time.Hour)
	fx.receive(t, flour, fx.branch, "4.5", time.Hour)
	r := fx.receive(t, buns, fx.branch, "3", time.Hour)
	_, err := fx.engine.DeductForSale(fx.ctx, fx.staff, service.DeductRequest{
		ItemID: buns.ID, BranchID: fx.branch, Selection: domain.Selection{PortionIDs: portionIDs(r.Portions[:2])},
	})
	require.NoError(t, err)

	before := len(fx.entries(t, r.Batch.ID))
	levels, err := fx.query.StockLevels(fx.ctx, fx.branch)
	require.NoError(t, err)
	require.Len(t, levels, 3)

	byItem := map[string]domain.StockLevel{}
	for _, l := range levels {
		byItem[l.ItemID] = l
	}
	assert.True(t, byItem[flour.ID].OnHand.Equal(testutil.D("7.5")))
	assert.Equal(t, domain.StockInStock, byItem[flour.ID].Status)
	assert.True(t, byItem[buns.ID].OnHand.Equal(testutil.D("1")))
	assert.Equal(t, domain.StockLow, byItem[buns.ID].Status)
	assert.True(t, byItem[salt.ID].OnHand.IsZero())
	assert.Equal(t, domain.StockOutOfStock, byItem[salt.ID].Status)

	// Reads never write.
	assert.Len(t, fx.entries(t, r.Batch.ID), before)
}

func TestStockLevels_SkipsUnstockedItems(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByMeasure, "0")
	require.NoError(t, fx.catalog.SetBranchStock(fx.ctx, fx.staff, &domain.BranchStock{
		ItemID: item.ID, BranchID: fx.branch, IsStocked: false,
	}))

	levels, err := fx.query.StockLevels(fx.ctx, fx.branch)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestExpiringBatches(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByMeasure, "0")
	today := time.Now().UTC()

	receive := func(qty string, expires time.Time) *domain.Batch {
		b, err := fx.catalog.ReceiveBatch(fx.ctx, fx.staff, service.ReceiveRequest{
			ItemID: item.ID, BranchID: fx.branch, Quantity: testutil.D(qty), UnitCost: testutil.D("1"), ExpirationDate: &expires,
		})
		require.NoError(t, err)
		return b.Batch
	}
	expired := receive("2", today.AddDate(0, 0, -1))
	soon := receive("2", today.AddDate(0, 0, 2))
	receive("2", today.AddDate(0, 0, 30))
	empty := receive("1", today)
	_, err := fx.engine.RecordAdjustment(fx.ctx, fx.staff, service.AdjustmentRequest{
		Type: domain.AdjustmentExpired, BranchID: fx.branch, BatchID: empty.ID, Quantity: testutil.D("1"),
	})
	require.NoError(t, err)

	got, err := fx.query.ExpiringBatches(fx.ctx, fx.branch)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, expired.ID, got[0].ID)
	assert.Equal(t, domain.ExpiryExpired, got[0].Status)
	assert.Equal(t, -1, got[0].DaysLeft)
	assert.Equal(t, soon.ID, got[1].ID)
	assert.Equal(t, domain.ExpiryExpiringSoon, got[1].Status)
	assert.Equal(t, 2, got[1].DaysLeft)

	levels, err := fx.query.StockLevels(fx.ctx, fx.branch)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 1, levels[0].ExpiredBatches)
	assert.Equal(t, 1, levels[0].ExpiringBatches)
}

func TestExpiringBatches_FollowTransferredPortions(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByPortion, "0")
	dest := fx.factory.BranchID()
	fx.stock(t, item, dest, "0")
	receiver := fx.factory.Staff(dest)

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	r, err := fx.catalog.ReceiveBatch(fx.ctx, fx.staff, service.ReceiveRequest{
		ItemID: item.ID, BranchID: fx.branch, Quantity: testutil.D("2"), UnitCost: testutil.D("1"), ExpirationDate: &tomorrow,
	})
	require.NoError(t, err)

	tr, err := fx.transfers.Create(fx.ctx, fx.staff, service.CreateTransferRequest{
		SourceBranchID:      fx.branch,
		DestinationBranchID: dest,
		Lines:               []service.TransferLine{{ItemID: item.ID, BatchID: r.Batch.ID, PortionIDs: portionIDs(r.Portions)}},
	})
	require.NoError(t, err)
	receptions := make([]service.LineReception, len(tr.Items))
	for i, it := range tr.Items {
		receptions[i] = service.LineReception{TransferItemID: it.ID, Status: domain.ReceptionReceived}
	}
	_, err = fx.transfers.Receive(fx.ctx, receiver, tr.ID, receptions)
	require.NoError(t, err)

	got, err := fx.query.ExpiringBatches(fx.ctx, dest)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.Batch.ID, got[0].ID)
	assert.Equal(t, dest, got[0].LocatedAt)
	assert.Equal(t, domain.ExpiryExpiringSoon, got[0].Status)
	assert.True(t, got[0].OnHand.Equal(testutil.D("2")))

	levels, err := fx.query.StockLevels(fx.ctx, dest)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 1, levels[0].ExpiringBatches)
	assert.True(t, levels[0].OnHand.Equal(testutil.D("2")))

	// Nothing is left at the receiving branch to flag.
	got, err = fx.query.ExpiringBatches(fx.ctx, fx.branch)
	require.NoError(t, err)
	assert.Empty(t, got)

	view, err := fx.catalog.GetBatch(fx.ctx, r.Batch.ID)
	require.NoError(t, err)
	assert.True(t, view.OnHand.IsZero())
	require.Contains(t, view.OnHandElsewhere, dest)
	assert.True(t, view.OnHandElsewhere[dest].Equal(testutil.D("2")))
}

func TestStockScanner_ScanAll(t *testing.T) {
	fx := newFixture(t)
	low := fx.item(t, domain.TrackingByMeasure, "5")
	fine := fx.item(t, domain.TrackingByMeasure, "1")
	fx.receive(t, low, fx.branch, "2", time.Hour)
	fx.receive(t, fine, fx.branch, "10", time.Hour)

	other := fx.factory.BranchID()
	fx.stock(t, fine, other, "1")

	mock := testutil.NewMockPublisher()
	scanner := service.NewStockScanner(storesOf(fx.store), events.New(mock, nil), time.Minute, logger.NewNop())

	results, err := scanner.ScanAll(fx.ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byBranch := map[string]service.ScanResult{}
	for _, r := range results {
		byBranch[r.BranchID] = r
	}
	assert.Equal(t, 1, byBranch[fx.branch].LowStock)
	assert.Equal(t, 0, byBranch[fx.branch].OutOfStock)
	assert.Equal(t, 1, byBranch[other].OutOfStock)

	var lows []messaging.StockLowEvent
	for _, e := range mock.Events() {
		if e.Type == messaging.EventStockLow {
			lows = append(lows, e.Payload.(messaging.StockLowEvent))
		}
	}
	assert.Len(t, lows, 2)
}

func TestLedgerSearch(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByMeasure, "0")
	b := fx.receive(t, item, fx.branch, "10", time.Hour).Batch
	_, err := fx.engine.RecordAdjustment(fx.ctx, fx.staff, service.AdjustmentRequest{
		Type: domain.AdjustmentWaste, BranchID: fx.branch, BatchID: b.ID, Quantity: testutil.D("1"),
	})
	require.NoError(t, err)

	records, total, err := fx.ledger.Search(fx.ctx, domain.LedgerFilter{
		BatchID: b.ID,
		Actions: []domain.LogAction{domain.AdjustmentWaste.LogAction()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, item.Code, records[0].ItemCode)

	entry, err := fx.ledger.GetEntry(fx.ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, records[0].Action, entry.Action)

	require.NoError(t, fx.store.UpsertUser(fx.ctx, &actor.CachedUser{UserID: fx.staff.ID, Name: "Marta Quispe"}))
	records, total, err = fx.ledger.Search(fx.ctx, domain.LedgerFilter{BranchID: fx.branch, Search: "quispe"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.NotNil(t, records[0].UserName)
	assert.Equal(t, "Marta Quispe", *records[0].UserName)

	_, _, err = fx.ledger.Search(fx.ctx, domain.LedgerFilter{Actions: []domain.LogAction{"DELETED"}})
	assertCode(t, err, "VALIDATION_ERROR")

	from := time.Now()
	to := from.Add(-time.Hour)
	_, _, err = fx.ledger.Search(fx.ctx, domain.LedgerFilter{From: &from, To: &to})
	assertCode(t, err, "VALIDATION_ERROR")

	_, err = fx.ledger.GetEntry(fx.ctx, "not-a-uuid")
	assertCode(t, err, "NOT_FOUND")
}
