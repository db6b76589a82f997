package domain

import (
	stderrors "errors"
	"net/http"

	"github.com/larder/larder-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Business error kinds. Every constructor below returns an *errors.AppError
// that unwraps to one of these, so callers can test with errors.Is.
var (
	ErrInsufficientStock       = stderrors.New("insufficient stock")
	ErrInvalidStateTransition  = stderrors.New("invalid state transition")
	ErrCrossBranchMismatch     = stderrors.New("cross branch mismatch")
	ErrCrossItemMismatch       = stderrors.New("cross item mismatch")
	ErrImmutableFieldViolation = stderrors.New("immutable field violation")
	ErrPermissionDenied        = stderrors.New("permission denied")
	ErrMissingReason           = stderrors.New("missing reason")
	ErrTransferNotPending      = stderrors.New("transfer not pending")
	ErrSameBranchTransfer      = stderrors.New("same branch transfer")
	ErrInvalidQuantity         = stderrors.New("invalid quantity")
	ErrTrackingTypeMismatch    = stderrors.New("tracking type mismatch")
	ErrInvalidLogReference     = stderrors.New("invalid log reference")
	ErrUnparsableDetails       = stderrors.New("unparsable details")
	ErrSaleAlreadyDeducted     = stderrors.New("sale already deducted")
	ErrNotFound                = errors.ErrNotFound
)

const keyPrefix = "inventory.errors."

func newErr(kind error, code, key string, status int, params map[string]string) *errors.AppError {
	return errors.NewWithKey(kind, code, keyPrefix+key, status, params)
}

func InsufficientStock(requested, available decimal.Decimal) *errors.AppError {
	return newErr(ErrInsufficientStock, "INSUFFICIENT_STOCK", "insufficient_stock", http.StatusConflict,
		map[string]string{"requested": requested.StringFixed(2), "available": available.StringFixed(2)})
}

func InvalidStateTransition(portionID string, from PortionStatus, trigger Trigger) *errors.AppError {
	return newErr(ErrInvalidStateTransition, "INVALID_STATE_TRANSITION", "invalid_state_transition", http.StatusConflict,
		map[string]string{"portion": portionID, "from": string(from), "trigger": string(trigger)})
}

func CrossBranchMismatch(resource string) *errors.AppError {
	return newErr(ErrCrossBranchMismatch, "CROSS_BRANCH_MISMATCH", "cross_branch_mismatch", http.StatusUnprocessableEntity,
		map[string]string{"resource": resource})
}

func CrossItemMismatch(resource string) *errors.AppError {
	return newErr(ErrCrossItemMismatch, "CROSS_ITEM_MISMATCH", "cross_item_mismatch", http.StatusUnprocessableEntity,
		map[string]string{"resource": resource})
}

func ImmutableFieldViolation(field string) *errors.AppError {
	return newErr(ErrImmutableFieldViolation, "IMMUTABLE_FIELD_VIOLATION", "immutable_field_violation", http.StatusUnprocessableEntity,
		map[string]string{"field": field})
}

func PermissionDenied(operation string) *errors.AppError {
	return newErr(ErrPermissionDenied, "PERMISSION_DENIED", "permission_denied", http.StatusForbidden,
		map[string]string{"operation": operation})
}

func MissingReason(t AdjustmentType) *errors.AppError {
	return newErr(ErrMissingReason, "MISSING_REASON", "missing_reason", http.StatusUnprocessableEntity,
		map[string]string{"type": string(t)})
}

func TransferNotPending(status TransferStatus) *errors.AppError {
	return newErr(ErrTransferNotPending, "TRANSFER_NOT_PENDING", "transfer_not_pending", http.StatusConflict,
		map[string]string{"status": string(status)})
}

func SameBranchTransfer() *errors.AppError {
	return newErr(ErrSameBranchTransfer, "SAME_BRANCH_TRANSFER", "same_branch_transfer", http.StatusUnprocessableEntity, nil)
}

func InvalidQuantity(reason string) *errors.AppError {
	return newErr(ErrInvalidQuantity, "INVALID_QUANTITY", "invalid_quantity", http.StatusUnprocessableEntity,
		map[string]string{"reason": reason})
}

func TrackingTypeMismatch(t TrackingType) *errors.AppError {
	return newErr(ErrTrackingTypeMismatch, "TRACKING_TYPE_MISMATCH", "tracking_type_mismatch", http.StatusUnprocessableEntity,
		map[string]string{"tracking_type": string(t)})
}

func InvalidLogReference(logID, reason string) *errors.AppError {
	return newErr(ErrInvalidLogReference, "INVALID_LOG_REFERENCE", "invalid_log_reference", http.StatusUnprocessableEntity,
		map[string]string{"log": logID, "reason": reason})
}

func UnparsableDetails(logID string) *errors.AppError {
	return newErr(ErrUnparsableDetails, "UNPARSABLE_DETAILS", "unparsable_details", http.StatusUnprocessableEntity,
		map[string]string{"log": logID})
}

// SaleAlreadyDeducted reports a sale line whose item the ledger already
// holds a deduction for.
func SaleAlreadyDeducted(saleID, itemID string) *errors.AppError {
	return newErr(ErrSaleAlreadyDeducted, "SALE_ALREADY_DEDUCTED", "sale_already_deducted", http.StatusConflict,
		map[string]string{"sale": saleID, "item": itemID})
}

// NotFound reports a missing inventory resource ("item", "batch", "portion", ...).
func NotFound(resource string) *errors.AppError {
	return newErr(ErrNotFound, "NOT_FOUND", "not_found", http.StatusNotFound,
		map[string]string{"resource": resource})
}

// IsNotFound reports whether err is a NOT_FOUND error of any layer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
