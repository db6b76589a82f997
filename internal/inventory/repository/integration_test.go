package repository_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	if testutil.IntegrationEnabled() {
		s, err := testutil.NewIntegrationSuite(ctx)
		if err != nil {
			log.Fatalf("failed to create integration suite: %v", err)
		}
		suite = s
	}

	code := m.Run()
	if suite != nil {
		suite.Schemas.Cleanup(ctx)
	}
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

type repos struct {
	db        *database.DB
	items     *repository.ItemRepository
	batches   *repository.BatchRepository
	portions  *repository.PortionRepository
	ledger    *repository.LedgerRepository
	transfers *repository.TransferRepository
	users     *repository.UserCacheRepository
}

func setupRepos(t *testing.T) (*repos, context.Context) {
	t.Helper()
	testutil.RequireIntegration(t, suite)

	ctx := testutil.ContextWithTimeout(t, 30*time.Second)
	db := suite.SetupSchema(t, ctx, repository.Migrate)
	return &repos{
		db:        db,
		items:     repository.NewItemRepository(db),
		batches:   repository.NewBatchRepository(db),
		portions:  repository.NewPortionRepository(db),
		ledger:    repository.NewLedgerRepository(db),
		transfers: repository.NewTransferRepository(db),
		users:     repository.NewUserCacheRepository(db),
	}, ctx
}

func createItem(t *testing.T, ctx context.Context, r *repos, code string, tracking domain.TrackingType) *domain.Item {
	t.Helper()
	item := &domain.Item{Name: "Item " + code, Code: code, Unit: "kg", TrackingType: tracking, DaysToWarnBeforeExpiry: 2}
	require.NoError(t, r.items.CreateItem(ctx, item))
	return item
}

func createBatch(t *testing.T, ctx context.Context, r *repos, item *domain.Item, branch, number string, receivedAt time.Time, qty string) *domain.Batch {
	t.Helper()
	b := &domain.Batch{
		ItemID: item.ID, BranchID: branch, BatchNumber: number, Source: domain.SourcePurchase,
		QuantityReceived: testutil.D(qty), RemainingQuantity: testutil.D(qty), UnitCost: testutil.D("2.00"),
		ReceivedAt: receivedAt,
	}
	require.NoError(t, r.batches.CreateBatch(ctx, b))
	return b
}

func TestMigrate_IsIdempotent(t *testing.T) {
	r, ctx := setupRepos(t)
	require.NoError(t, repository.Migrate(ctx, r.db))
}

func TestBatches_FIFOAndRemainingConstraint(t *testing.T) {
	r, ctx := setupRepos(t)
	item := createItem(t, ctx, r, "FLR", domain.TrackingByMeasure)

	base := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)
	newest := createBatch(t, ctx, r, item, "br-1", "B3", base.Add(48*time.Hour), "10")
	oldest := createBatch(t, ctx, r, item, "br-1", "B1", base, "10")
	middle := createBatch(t, ctx, r, item, "br-1", "B2", base.Add(24*time.Hour), "10")
	createBatch(t, ctx, r, item, "br-2", "B1", base, "10")

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		batches, err := r.batches.LockAvailableBatches(ctx, item.ID, "br-1")
		require.NoError(t, err)
		require.Len(t, batches, 3)
		assert.Equal(t, []string{oldest.ID, middle.ID, newest.ID}, []string{batches[0].ID, batches[1].ID, batches[2].ID})
		return nil
	})
	require.NoError(t, err)

	oldest.RemainingQuantity = testutil.D("-1")
	err = r.batches.UpdateBatchQuantities(ctx, oldest)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", errors.Code(err))

	dup := &domain.Batch{ItemID: item.ID, BranchID: "br-1", BatchNumber: "B1", Source: domain.SourcePurchase,
		QuantityReceived: testutil.D("1"), RemainingQuantity: testutil.D("1")}
	err = r.batches.CreateBatch(ctx, dup)
	assert.Equal(t, "CONFLICT", errors.Code(err))

	totals, err := r.batches.RemainingTotals(ctx, "br-1")
	require.NoError(t, err)
	assert.True(t, totals[item.ID].Equal(testutil.D("30")))
}

func TestPortions_LockAndCount(t *testing.T) {
	r, ctx := setupRepos(t)
	item := createItem(t, ctx, r, "EGG", domain.TrackingByPortion)
	batch := createBatch(t, ctx, r, item, "br-1", "E1", time.Now().UTC(), "3")

	portions := []domain.Portion{
		{BatchID: batch.ID, ItemID: item.ID, BranchID: "br-1", Label: "EGG-1", Status: domain.PortionUnused},
		{BatchID: batch.ID, ItemID: item.ID, BranchID: "br-1", Label: "EGG-2", Status: domain.PortionUnused},
		{BatchID: batch.ID, ItemID: item.ID, BranchID: "br-1", Label: "EGG-3", Status: domain.PortionUnused},
	}
	require.NoError(t, r.portions.CreatePortions(ctx, portions))

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		locked, err := r.portions.LockPortions(ctx, []string{portions[2].ID, portions[0].ID, uuid.NewString()})
		require.NoError(t, err)
		require.Len(t, locked, 2)
		assert.True(t, locked[0].ID < locked[1].ID)

		locked[0].Status = domain.PortionSpoiled
		return r.portions.UpdatePortion(ctx, &locked[0])
	})
	require.NoError(t, err)

	counts, err := r.portions.UnusedCounts(ctx, "br-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[item.ID])

	dup := []domain.Portion{{BatchID: batch.ID, ItemID: item.ID, BranchID: "br-1", Label: "EGG-1", Status: domain.PortionUnused}}
	assert.Equal(t, "CONFLICT", errors.Code(r.portions.CreatePortions(ctx, dup)))
}

func TestLedger_AppendOnlyAndSearch(t *testing.T) {
	r, ctx := setupRepos(t)
	item := createItem(t, ctx, r, "MLK", domain.TrackingByMeasure)
	batch := createBatch(t, ctx, r, item, "br-1", "M1", time.Now().UTC(), "10")

	email := "maria@example.com"
	require.NoError(t, r.users.UpsertUser(ctx, &actor.CachedUser{UserID: "u-1", Name: "Maria Keller", Email: &email}))

	details := domain.NewDetails()
	details.QuantityChange = domain.Dec(testutil.D("-2.5"))
	raw, err := details.Encode()
	require.NoError(t, err)

	userID := "u-1"
	entry := &domain.LedgerEntry{
		BatchID: batch.ID, ItemID: item.ID, BranchID: "br-1", UserID: &userID,
		Action: domain.AdjustmentWaste.LogAction(), Details: raw,
	}
	require.NoError(t, r.ledger.AppendEntry(ctx, entry))

	_, err = r.db.ExecContext(ctx, `UPDATE ledger_entries SET action = 'BATCH_UPDATED' WHERE id = $1`, entry.ID)
	assert.Error(t, err, "ledger rows are append-only")
	_, err = r.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entry.ID)
	assert.Error(t, err, "ledger rows are append-only")

	records, total, err := r.ledger.SearchEntries(ctx, domain.LedgerFilter{Search: "keller", Page: domain.Page{Page: 1, PerPage: 10}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "M1", records[0].BatchNumber)

	amount, err := domain.DeductedAmount(records[0].Details)
	require.NoError(t, err)
	assert.True(t, amount.Equal(testutil.D("2.5")))

	found, err := r.ledger.BatchEntries(ctx, batch.ID, domain.AdjustmentWaste.LogAction())
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestTransfers_CreateAndResolve(t *testing.T) {
	r, ctx := setupRepos(t)
	item := createItem(t, ctx, r, "OIL", domain.TrackingByMeasure)
	batch := createBatch(t, ctx, r, item, "br-1", "O1", time.Now().UTC(), "50")

	sender := "u-1"
	tr := &domain.Transfer{
		SourceBranchID: "br-1", DestinationBranchID: "br-2", SentBy: &sender, Status: domain.TransferPending,
		Items: []domain.TransferItem{{ItemID: item.ID, BatchID: batch.ID, Quantity: testutil.D("10")}},
	}
	require.NoError(t, r.transfers.CreateTransfer(ctx, tr))
	assert.Equal(t, 1, tr.Items[0].LineNo)

	same := &domain.Transfer{SourceBranchID: "br-1", DestinationBranchID: "br-1", Status: domain.TransferPending}
	assert.Equal(t, "VALIDATION_ERROR", errors.Code(r.transfers.CreateTransfer(ctx, same)))

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		locked, err := r.transfers.LockTransfer(ctx, tr.ID)
		require.NoError(t, err)
		require.Len(t, locked.Items, 1)

		line := locked.Items[0]
		line.ReceptionStatus = domain.ReceptionReceived
		line.ReceivedQuantity = testutil.NullD("10")
		if err := r.transfers.UpdateTransferItem(ctx, &line); err != nil {
			return err
		}

		now := time.Now().UTC()
		locked.Status = domain.TransferCompleted
		locked.ReceivedAt = &now
		return r.transfers.UpdateTransferStatus(ctx, locked)
	})
	require.NoError(t, err)

	got, err := r.transfers.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, got.Status)
	assert.Equal(t, domain.ReceptionReceived, got.Items[0].ReceptionStatus)

	list, total, err := r.transfers.ListTransfers(ctx, domain.TransferFilter{BranchID: "br-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}
