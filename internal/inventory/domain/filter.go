package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Page is a 1-based page request.
type Page struct {
	Page    int
	PerPage int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Window slices a fully materialised list the way Offset/PerPage would.
func Window[T any](all []T, p Page) []T {
	start := p.Offset()
	if start >= len(all) {
		return []T{}
	}
	end := len(all)
	if p.PerPage > 0 && start+p.PerPage < end {
		end = start + p.PerPage
	}
	return all[start:end]
}

// ItemFilter narrows catalog listings.
type ItemFilter struct {
	Search       string
	Category     string
	TrackingType TrackingType
	Page
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ItemID   string
	BranchID string
	// OnlyAvailable keeps batches with remaining quantity above zero.
	OnlyAvailable bool
	// WithExpiry keeps batches that carry an expiration date.
	WithExpiry bool
	Page
}

// LedgerFilter narrows ledger searches.
type LedgerFilter struct {
	BatchID   string
	PortionID string
	ItemID    string
	BranchID  string
	SaleID    string
	Actions   []LogAction
	From      *time.Time
	To        *time.Time
	// Search matches item name or code, batch number, portion label and user name.
	Search string
	Page
}

// TransferFilter narrows transfer listings. BranchID matches either end.
type TransferFilter struct {
	BranchID string
	Status   TransferStatus
	Page
}

// LedgerRecord is a ledger entry joined with the names an audit screen shows.
type LedgerRecord struct {
	LedgerEntry
	ItemName     string  `json:"item_name" db:"item_name"`
	ItemCode     string  `json:"item_code" db:"item_code"`
	BatchNumber  string  `json:"batch_number" db:"batch_number"`
	PortionLabel *string `json:"portion_label,omitempty" db:"portion_label"`
	UserName     *string `json:"user_name,omitempty" db:"user_name"`
}

// StockLevel is the derived on-hand view of one item at one branch.
type StockLevel struct {
	ItemID            string          `json:"item_id"`
	ItemName          string          `json:"item_name"`
	ItemCode          string          `json:"item_code"`
	Unit              string          `json:"unit"`
	TrackingType      TrackingType    `json:"tracking_type"`
	BranchID          string          `json:"branch_id"`
	OnHand            decimal.Decimal `json:"on_hand"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	Status            StockStatus     `json:"status"`
	ExpiringBatches   int             `json:"expiring_batches"`
	ExpiredBatches    int             `json:"expired_batches"`
}

// ExpiringBatch is a batch flagged by the expiry warning window.
type ExpiringBatch struct {
	Batch
	// LocatedAt is the branch holding OnHand. For portion batches it can
	// differ from the receiving branch once portions were transferred.
	LocatedAt string          `json:"located_at"`
	ItemName  string          `json:"item_name"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Status    ExpiryStatus    `json:"expiry_status"`
	DaysLeft  int             `json:"days_left"`
}
