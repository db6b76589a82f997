package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Consumed: point-of-sale
	EventSaleCompleted = "sale.completed"

	// Consumed: user directory
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	// Published: stock movements
	EventStockDeducted = "inventory.stock.deducted"
	EventStockAdjusted = "inventory.stock.adjusted"
	EventStockRestored = "inventory.stock.restored"
	EventStockLow      = "inventory.stock.low"

	// Published: batches
	EventBatchReceived  = "inventory.batch.received"
	EventBatchUpdated   = "inventory.batch.updated"
	EventBatchCorrected = "inventory.batch.corrected"

	// Published: transfers
	EventTransferCreated   = "inventory.transfer.created"
	EventTransferReceived  = "inventory.transfer.received"
	EventTransferCancelled = "inventory.transfer.cancelled"
	EventTransferRejected  = "inventory.transfer.rejected"
)

// Exchange names
const (
	ExchangeSalesEvents     = "sales.events"
	ExchangeUserEvents      = "user.events"
	ExchangeInventoryEvents = "inventory.events"
	ExchangeDeadLetter      = "dlx.larder"
)

// Event is the envelope every message travels in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Sales

// SaleCompletedEvent is published by the point-of-sale when a sale closes.
// Each line deducts stock for one item at the sale's branch.
type SaleCompletedEvent struct {
	SaleID   string     `json:"sale_id"`
	BranchID string     `json:"branch_id"`
	UserID   *string    `json:"user_id,omitempty"`
	Lines    []SaleLine `json:"lines"`
}

// SaleLine is one item sold. BY_MEASURE items carry Quantity,
// BY_PORTION items carry PortionIDs.
type SaleLine struct {
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	PortionIDs []string        `json:"portion_ids,omitempty"`
}

// Users

// UserChangedEvent carries display data for user.created and user.updated.
type UserChangedEvent struct {
	UserID   string  `json:"user_id"`
	Name     string  `json:"name"`
	Email    *string `json:"email,omitempty"`
	BranchID *string `json:"branch_id,omitempty"`
}

// UserDeletedEvent is published when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
}

// Inventory

// StockDeductedEvent is published after a sale deduction commits
type StockDeductedEvent struct {
	SaleID      string          `json:"sale_id"`
	ItemID      string          `json:"item_id"`
	BranchID    string          `json:"branch_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	BatchIDs    []string        `json:"batch_ids"`
	PortionIDs  []string        `json:"portion_ids,omitempty"`
	PerformedBy *string         `json:"performed_by,omitempty"`
}

// StockAdjustedEvent is published after a loss adjustment commits
type StockAdjustedEvent struct {
	ItemID         string          `json:"item_id"`
	BranchID       string          `json:"branch_id"`
	BatchID        string          `json:"batch_id"`
	AdjustmentType string          `json:"adjustment_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	PortionIDs     []string        `json:"portion_ids,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	PerformedBy    *string         `json:"performed_by,omitempty"`
}

// StockRestoredEvent is published after an adjustment is reversed
type StockRestoredEvent struct {
	LogID       string          `json:"log_id"`
	ItemID      string          `json:"item_id"`
	BranchID    string          `json:"branch_id"`
	BatchID     string          `json:"batch_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	PortionIDs  []string        `json:"portion_ids,omitempty"`
	PerformedBy *string         `json:"performed_by,omitempty"`
}

// StockLowEvent is published when a deduction or adjustment leaves an
// item at or below its branch threshold
type StockLowEvent struct {
	ItemID    string          `json:"item_id"`
	BranchID  string          `json:"branch_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Threshold decimal.Decimal `json:"threshold"`
	Status    string          `json:"status"`
}

// BatchReceivedEvent is published when a batch enters stock
type BatchReceivedEvent struct {
	BatchID          string          `json:"batch_id"`
	ItemID           string          `json:"item_id"`
	BranchID         string          `json:"branch_id"`
	Source           string          `json:"source"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	Portions         int             `json:"portions"`
	TransferID       *string         `json:"transfer_id,omitempty"`
}

// BatchUpdatedEvent is published after descriptive batch fields change
type BatchUpdatedEvent struct {
	BatchID     string         `json:"batch_id"`
	ItemID      string         `json:"item_id"`
	BranchID    string         `json:"branch_id"`
	Fields      map[string]any `json:"fields"`
	PerformedBy *string        `json:"performed_by,omitempty"`
}

// BatchCorrectedEvent is published after a physical count correction
type BatchCorrectedEvent struct {
	BatchID     string          `json:"batch_id"`
	ItemID      string          `json:"item_id"`
	BranchID    string          `json:"branch_id"`
	Previous    decimal.Decimal `json:"previous"`
	New         decimal.Decimal `json:"new"`
	PerformedBy *string         `json:"performed_by,omitempty"`
}

// TransferEvent is published for every transfer state change
type TransferEvent struct {
	TransferID          string  `json:"transfer_id"`
	SourceBranchID      string  `json:"source_branch_id"`
	DestinationBranchID string  `json:"destination_branch_id"`
	Status              string  `json:"status"`
	ReceptionStatus     *string `json:"reception_status,omitempty"`
	Lines               int     `json:"lines"`
	PerformedBy         *string `json:"performed_by,omitempty"`
}
