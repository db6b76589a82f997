package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// LogAction is the closed set of ledger actions.
type LogAction string

const (
	ActionBatchCreated         LogAction = "BATCH_CREATED"
	ActionBatchUpdated         LogAction = "BATCH_UPDATED"
	ActionDeductedForSale      LogAction = "DEDUCTED_FOR_SALE"
	ActionTransferInitiated    LogAction = "TRANSFER_INITIATED"
	ActionTransferReceived     LogAction = "TRANSFER_RECEIVED"
	ActionTransferCancelled    LogAction = "TRANSFER_CANCELLED"
	ActionTransferRejected     LogAction = "TRANSFER_REJECTED"
	ActionTransferLineRejected LogAction = "TRANSFER_LINE_REJECTED"
	ActionTransferShortfall    LogAction = "TRANSFER_SHORTFALL"
	ActionBatchCountCorrected  LogAction = "BATCH_COUNT_CORRECTED"
	ActionPortionRestored      LogAction = "PORTION_RESTORED"
	ActionQuantityRestored     LogAction = "QUANTITY_RESTORED"
)

const adjustmentPrefix = "ADJUSTMENT_"

// Adjustment returns the adjustment type behind an ADJUSTMENT_* action.
func (a LogAction) Adjustment() (AdjustmentType, bool) {
	if !strings.HasPrefix(string(a), adjustmentPrefix) {
		return "", false
	}
	t := AdjustmentType(strings.TrimPrefix(string(a), adjustmentPrefix))
	return t, t.Valid()
}

// Valid reports whether a belongs to the closed action set.
func (a LogAction) Valid() bool {
	if _, ok := a.Adjustment(); ok {
		return true
	}
	switch a {
	case ActionBatchCreated, ActionBatchUpdated, ActionDeductedForSale,
		ActionTransferInitiated, ActionTransferReceived, ActionTransferCancelled,
		ActionTransferRejected, ActionTransferLineRejected, ActionTransferShortfall,
		ActionBatchCountCorrected, ActionPortionRestored, ActionQuantityRestored:
		return true
	}
	return false
}

// DetailsVersion is written into every payload produced by this service.
// Entries without a version predate it and go through the legacy detectors.
const DetailsVersion = 2

// Details is the structured payload of a ledger entry. Fields are filled
// according to the action; unused ones are omitted from the JSON.
type Details struct {
	Version int `json:"v"`

	// QuantityChange is the signed delta applied to the batch's remaining quantity.
	QuantityChange *decimal.Decimal `json:"quantity_change,omitempty"`
	Before         *decimal.Decimal `json:"before,omitempty"`
	After          *decimal.Decimal `json:"after,omitempty"`

	ReceivedBefore *decimal.Decimal `json:"quantity_received_before,omitempty"`
	ReceivedAfter  *decimal.Decimal `json:"quantity_received_after,omitempty"`

	AdjustmentType AdjustmentType `json:"adjustment_type,omitempty"`
	Reason         string         `json:"reason,omitempty"`

	FromStatus PortionStatus   `json:"from_status,omitempty"`
	ToStatus   PortionStatus   `json:"to_status,omitempty"`
	Via        []PortionStatus `json:"via,omitempty"`

	// SourceLog is the adjustment entry a portion restoration reverses.
	SourceLog string           `json:"source_log,omitempty"`
	// Sources are the adjustment entries a quantity restoration draws on.
	Sources   []RestoredAmount `json:"sources,omitempty"`

	TransferItemID      string            `json:"transfer_item_id,omitempty"`
	SourceBranchID      string            `json:"source_branch_id,omitempty"`
	DestinationBranchID string            `json:"destination_branch_id,omitempty"`
	DestinationBatchID  string            `json:"destination_batch_id,omitempty"`
	SentQuantity        *decimal.Decimal  `json:"sent_quantity,omitempty"`
	ReceivedQuantity    *decimal.Decimal  `json:"received_quantity,omitempty"`
	LostQuantity        *decimal.Decimal  `json:"lost_quantity,omitempty"`
	ReceptionStatus     ReceptionStatus   `json:"reception_status,omitempty"`
	ReceptionNotes      string            `json:"reception_notes,omitempty"`
	Changes             map[string]Change `json:"changes,omitempty"`
}

// RestoredAmount is one (source entry, amount) pair of a quantity restoration.
type RestoredAmount struct {
	SourceLog string          `json:"source_log"`
	Amount    decimal.Decimal `json:"amount"`
}

// Change records one edited batch field.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// NewDetails returns an empty payload stamped with the current version.
func NewDetails() *Details {
	return &Details{Version: DetailsVersion}
}

// Dec returns a pointer to a copy of d.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Encode renders the payload for storage.
func (d *Details) Encode() (types.JSONText, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode ledger details: %w", err)
	}
	return types.JSONText(b), nil
}

// DecodeDetails parses a payload written by this service.
func DecodeDetails(raw []byte) (*Details, error) {
	var d Details
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableDetails, err)
	}
	return &d, nil
}

type detailShape struct {
	name   string
	fields []string
	amount func(f map[string]json.RawMessage) (decimal.Decimal, error)
}

// detailShapes recognise the three ways an adjustment entry has recorded the
// amount it removed from a batch.
var detailShapes = []detailShape{
	{
		name:   "quantity_change",
		fields: []string{"quantity_change"},
		amount: func(f map[string]json.RawMessage) (decimal.Decimal, error) {
			change, err := decimalField(f, "quantity_change")
			if err != nil {
				return decimal.Zero, err
			}
			return change.Neg(), nil
		},
	},
	{
		name:   "quantity_adjusted_direction",
		fields: []string{"quantity_adjusted", "direction"},
		amount: func(f map[string]json.RawMessage) (decimal.Decimal, error) {
			qty, err := decimalField(f, "quantity_adjusted")
			if err != nil {
				return decimal.Zero, err
			}
			var dir string
			if err := json.Unmarshal(f["direction"], &dir); err != nil {
				return decimal.Zero, err
			}
			switch strings.ToLower(strings.TrimSpace(dir)) {
			case "decrease", "decrement", "subtract", "remove", "out", "-":
				return qty.Abs(), nil
			default:
				return decimal.Zero, fmt.Errorf("direction %q is not a deduction", dir)
			}
		},
	},
	{
		name:   "original_new_quantity",
		fields: []string{"original_quantity", "new_quantity"},
		amount: func(f map[string]json.RawMessage) (decimal.Decimal, error) {
			orig, err := decimalField(f, "original_quantity")
			if err != nil {
				return decimal.Zero, err
			}
			next, err := decimalField(f, "new_quantity")
			if err != nil {
				return decimal.Zero, err
			}
			return orig.Sub(next), nil
		},
	},
}

func decimalField(f map[string]json.RawMessage, name string) (decimal.Decimal, error) {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(f[name]); err != nil {
		return decimal.Zero, fmt.Errorf("field %s: %w", name, err)
	}
	return d, nil
}

// DeductedAmount recomputes how much an adjustment entry removed from its batch.
//
// Every shape whose fields are present is evaluated. The result must be
// positive, and when several shapes match they must agree; anything else is
// reported as ErrUnparsableDetails.
func DeductedAmount(raw []byte) (decimal.Decimal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return decimal.Zero, fmt.Errorf("%w: payload is not an object", ErrUnparsableDetails)
	}

	var (
		amount  decimal.Decimal
		matched string
	)
	for _, shape := range detailShapes {
		if !hasFields(fields, shape.fields) {
			continue
		}
		got, err := shape.amount(fields)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrUnparsableDetails, shape.name, err)
		}
		if matched != "" && !got.Equal(amount) {
			return decimal.Zero, fmt.Errorf("%w: %s and %s disagree", ErrUnparsableDetails, matched, shape.name)
		}
		amount, matched = got, shape.name
	}

	if matched == "" {
		return decimal.Zero, fmt.Errorf("%w: no known shape", ErrUnparsableDetails)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s yields non-positive amount %s", ErrUnparsableDetails, matched, amount)
	}
	return amount, nil
}

func hasFields(f map[string]json.RawMessage, names []string) bool {
	for _, n := range names {
		v, ok := f[n]
		if !ok || string(v) == "null" {
			return false
		}
	}
	return true
}
