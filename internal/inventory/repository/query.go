package repository

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
)

// where accumulates AND-ed conditions with positional arguments.
// Each condition uses "?" for its single argument.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), -1))
}

// addRaw adds a condition without arguments.
func (w *where) addRaw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the clause with its arguments.
func (w *where) page(p domain.Page) (string, []interface{}) {
	args := append([]interface{}{}, w.args...)
	if p.PerPage <= 0 {
		return "", args
	}
	args = append(args, p.PerPage, p.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args
}

// notFound turns sql.ErrNoRows into a NOT_FOUND error for resource.
func notFound(err error, resource string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(resource)
	}
	return mapErr(err)
}

// mapErr converts constraint violations raised outside a transaction.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if mapped := database.MapPQError(err); mapped != nil {
		return mapped
	}
	return err
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}
