package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"github.com/larder/larder-backend/pkg/errors"
)

// PostgreSQL error codes the inventory service reacts to.
const (
	codeCheckViolation      = "23514"
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeLockNotAvailable    = "55P03"
	codeQueryCanceled       = "57014"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if err does not wrap a pq.Error or the code is not handled.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case codeCheckViolation:
		return mapCheckConstraint(pqErr)

	case codeUniqueViolation:
		return errors.Conflict(formatConstraintMessage(pqErr))

	case codeForeignKeyViolation:
		return errors.BadRequest("referenced record does not exist")

	case codeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	case codeSerialization, codeDeadlock, codeLockNotAvailable, codeQueryCanceled:
		return errors.TransactionFailed(pqErr)

	default:
		return nil
	}
}

// translate maps driver errors leaving a transaction; everything else passes through.
func translate(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if mapped := MapPQError(err); mapped != nil {
		return mapped
	}
	return err
}

// mapCheckConstraint maps CHECK constraint names from the inventory schema.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "remaining"):
		return errors.Validation(map[string]string{
			"remaining_quantity": "must stay between 0 and quantity_received",
		})

	case strings.Contains(constraint, "branches_differ"):
		return errors.Validation(map[string]string{
			"destination_branch_id": "must differ from the source branch",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "is not a known status",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "items_code"):
		return "an item with this code already exists"
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this number already exists for the item and branch"
	case strings.Contains(constraint, "portions_label"):
		return "a portion with this label already exists"
	default:
		return "a record with these values already exists"
	}
}
