// Package domain holds the inventory ledger model: items, batches,
// portions, ledger entries and transfers, plus the rules that are pure
// functions of that model (portion transitions, adjustment mapping,
// details payloads, stock status).
package domain

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// TrackingType decides whether an item is counted in portions or measured.
type TrackingType string

const (
	TrackingByPortion TrackingType = "BY_PORTION"
	TrackingByMeasure TrackingType = "BY_MEASURE"
)

// Valid reports whether t is a known tracking type.
func (t TrackingType) Valid() bool {
	return t == TrackingByPortion || t == TrackingByMeasure
}

// Item is a catalog entry.
type Item struct {
	ID                     string       `json:"id" db:"id"`
	Name                   string       `json:"name" db:"name"`
	Code                   string       `json:"code" db:"code"`
	Category               *string      `json:"category,omitempty" db:"category"`
	Unit                   string       `json:"unit" db:"unit"`
	TrackingType           TrackingType `json:"tracking_type" db:"tracking_type"`
	DaysToWarnBeforeExpiry int          `json:"days_to_warn_before_expiry" db:"days_to_warn_before_expiry"`
	CreatedAt              time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at" db:"updated_at"`
}

// BranchStock is the per-branch stocking flag and low-stock threshold of an item.
type BranchStock struct {
	ItemID            string          `json:"item_id" db:"item_id"`
	BranchID          string          `json:"branch_id" db:"branch_id"`
	IsStocked         bool            `json:"is_stocked" db:"is_stocked"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold" db:"low_stock_threshold"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Batch sources
const (
	SourcePurchase = "purchase"
	SourceTransfer = "transfer"
)

// Batch is one receipt of an item at a branch.
//
// For BY_PORTION items RemainingQuantity stays equal to QuantityReceived;
// availability is the number of UNUSED portions.
type Batch struct {
	ID                string          `json:"id" db:"id"`
	ItemID            string          `json:"item_id" db:"item_id"`
	BranchID          string          `json:"branch_id" db:"branch_id"`
	BatchNumber       string          `json:"batch_number" db:"batch_number"`
	Label             *string         `json:"label,omitempty" db:"label"`
	Source            string          `json:"source" db:"source"`
	SourceTransferID  *string         `json:"source_transfer_id,omitempty" db:"source_transfer_id"`
	SourceBatchID     *string         `json:"source_batch_id,omitempty" db:"source_batch_id"`
	QuantityReceived  decimal.Decimal `json:"quantity_received" db:"quantity_received"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity" db:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	ReceivedAt        time.Time       `json:"received_at" db:"received_at"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty" db:"expiration_date"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Portion is one countable unit carved from a BY_PORTION batch.
// BranchID follows the portion through transfers; BatchID and ItemID never change.
type Portion struct {
	ID        string              `json:"id" db:"id"`
	BatchID   string              `json:"batch_id" db:"batch_id"`
	ItemID    string              `json:"item_id" db:"item_id"`
	BranchID  string              `json:"branch_id" db:"branch_id"`
	Label     string              `json:"label" db:"label"`
	Quantity  decimal.NullDecimal `json:"quantity" db:"quantity"`
	Status    PortionStatus       `json:"status" db:"status"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable audit record of one stock-affecting event.
type LedgerEntry struct {
	ID         string         `json:"id" db:"id"`
	BatchID    string         `json:"batch_id" db:"batch_id"`
	PortionID  *string        `json:"portion_id,omitempty" db:"portion_id"`
	ItemID     string         `json:"item_id" db:"item_id"`
	BranchID   string         `json:"branch_id" db:"branch_id"`
	UserID     *string        `json:"user_id,omitempty" db:"user_id"`
	SaleID     *string        `json:"sale_id,omitempty" db:"sale_id"`
	TransferID *string        `json:"transfer_id,omitempty" db:"transfer_id"`
	Action     LogAction      `json:"action" db:"action"`
	Details    types.JSONText `json:"details" db:"details"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// TransferStatus is the lifecycle state of a transfer. Only PENDING is non-terminal.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferCancelled TransferStatus = "CANCELLED"
	TransferRejected  TransferStatus = "REJECTED"
)

// ReceptionStatus is the per-line outcome recorded by the destination.
type ReceptionStatus string

const (
	ReceptionPending            ReceptionStatus = "PENDING"
	ReceptionReceived           ReceptionStatus = "RECEIVED"
	ReceptionReceivedWithIssues ReceptionStatus = "RECEIVED_WITH_ISSUES"
	ReceptionRejected           ReceptionStatus = "REJECTED"
)

// Terminal reports whether the line has been resolved.
func (s ReceptionStatus) Terminal() bool {
	return s == ReceptionReceived || s == ReceptionReceivedWithIssues || s == ReceptionRejected
}

// Transfer moves stock between two branches.
type Transfer struct {
	ID                  string         `json:"id" db:"id"`
	SourceBranchID      string         `json:"source_branch_id" db:"source_branch_id"`
	DestinationBranchID string         `json:"destination_branch_id" db:"destination_branch_id"`
	SentBy              *string        `json:"sent_by,omitempty" db:"sent_by"`
	ReceivedBy          *string        `json:"received_by,omitempty" db:"received_by"`
	Status              TransferStatus `json:"status" db:"status"`
	Notes               *string        `json:"notes,omitempty" db:"notes"`
	SentAt              time.Time      `json:"sent_at" db:"sent_at"`
	ReceivedAt          *time.Time     `json:"received_at,omitempty" db:"received_at"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
	Items               []TransferItem `json:"items" db:"-"`
}

// TransferItem is one line of a transfer: a portion, or a quantity of a batch.
// Quantity is 1 for portion lines.
type TransferItem struct {
	ID                 string              `json:"id" db:"id"`
	TransferID         string              `json:"transfer_id" db:"transfer_id"`
	LineNo             int                 `json:"line_no" db:"line_no"`
	ItemID             string              `json:"item_id" db:"item_id"`
	BatchID            string              `json:"batch_id" db:"batch_id"`
	PortionID          *string             `json:"portion_id,omitempty" db:"portion_id"`
	Quantity           decimal.Decimal     `json:"quantity" db:"quantity"`
	ReceptionStatus    ReceptionStatus     `json:"reception_status" db:"reception_status"`
	ReceivedQuantity   decimal.NullDecimal `json:"received_quantity" db:"received_quantity"`
	ReceptionNotes     *string             `json:"reception_notes,omitempty" db:"reception_notes"`
	DestinationBatchID *string             `json:"destination_batch_id,omitempty" db:"destination_batch_id"`
}

// IsPortionLine reports whether the line moves a single portion.
func (ti TransferItem) IsPortionLine() bool {
	return ti.PortionID != nil
}

// Pending returns the lines not yet resolved.
func (t *Transfer) Pending() []TransferItem {
	var out []TransferItem
	for _, it := range t.Items {
		if !it.ReceptionStatus.Terminal() {
			out = append(out, it)
		}
	}
	return out
}
