package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/actor"
)

// Transactor runs fn atomically. Stores called with the ctx passed to fn
// join the transaction; an error from fn rolls everything back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ItemStore persists catalog items and their per-branch settings.
// LockItem takes a row lock for update, ShareItem a shared one that blocks
// concurrent LockItem holders.
type ItemStore interface {
	CreateItem(ctx context.Context, item *domain.Item) error
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	LockItem(ctx context.Context, id string) (*domain.Item, error)
	ShareItem(ctx context.Context, id string) (*domain.Item, error)
	UpdateItem(ctx context.Context, item *domain.Item) error
	ListItems(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int, error)
	UpsertBranchStock(ctx context.Context, bs *domain.BranchStock) error
	GetBranchStock(ctx context.Context, itemID, branchID string) (*domain.BranchStock, error)
	ListBranchStock(ctx context.Context, branchID string) ([]domain.BranchStock, error)
	StockedBranches(ctx context.Context) ([]string, error)
}

// BatchStore persists batches. Lock* methods take row locks held until
// the surrounding transaction ends and return rows in (received_at, id) order.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *domain.Batch) error
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	LockBatch(ctx context.Context, id string) (*domain.Batch, error)
	LockBatches(ctx context.Context, ids []string) ([]domain.Batch, error)
	LockAvailableBatches(ctx context.Context, itemID, branchID string) ([]domain.Batch, error)
	UpdateBatchQuantities(ctx context.Context, b *domain.Batch) error
	UpdateBatchMetadata(ctx context.Context, b *domain.Batch) error
	ListBatches(ctx context.Context, f domain.BatchFilter) ([]domain.Batch, int, error)
	CountBatches(ctx context.Context, itemID string) (int, error)
	RemainingTotals(ctx context.Context, branchID string) (map[string]decimal.Decimal, error)
}

// PortionStore persists portions. Portions are never deleted.
type PortionStore interface {
	CreatePortions(ctx context.Context, portions []domain.Portion) error
	GetPortion(ctx context.Context, id string) (*domain.Portion, error)
	LockPortions(ctx context.Context, ids []string) ([]domain.Portion, error)
	UpdatePortion(ctx context.Context, p *domain.Portion) error
	ListPortions(ctx context.Context, batchID string) ([]domain.Portion, error)
	UnusedCounts(ctx context.Context, branchID string) (map[string]int, error)
	UnusedByBatch(ctx context.Context, branchID string) (map[string]int, error)
}

// LedgerStore is append-only.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e *domain.LedgerEntry) error
	GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	LastAdjustment(ctx context.Context, portionID string) (*domain.LedgerEntry, error)
	BatchEntries(ctx context.Context, batchID string, actions ...domain.LogAction) ([]domain.LedgerEntry, error)
	SearchEntries(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerRecord, int, error)
	// SaleDeducted serializes deductions of one sale line for the rest of
	// the transaction and reports whether the line was already deducted.
	SaleDeducted(ctx context.Context, saleID, itemID, branchID string) (bool, error)
}

// TransferStore persists transfers with their lines.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t *domain.Transfer) error
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	LockTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	UpdateTransferStatus(ctx context.Context, t *domain.Transfer) error
	UpdateTransferItem(ctx context.Context, it *domain.TransferItem) error
	ListTransfers(ctx context.Context, f domain.TransferFilter) ([]domain.Transfer, int, error)
}

// UserStore caches display data of users named in the ledger.
type UserStore interface {
	UpsertUser(ctx context.Context, u *actor.CachedUser) error
	GetUser(ctx context.Context, userID string) (*actor.CachedUser, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Stores bundles every store the services need.
type Stores struct {
	Tx        Transactor
	Items     ItemStore
	Batches   BatchStore
	Portions  PortionStore
	Ledger    LedgerStore
	Transfers TransferStore
	Users     UserStore
}
