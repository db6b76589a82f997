package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
)

const (
	transferColumns = `id, source_branch_id, destination_branch_id, sent_by, received_by, status, notes,
		sent_at, received_at, created_at, updated_at`
	transferItemColumns = `id, transfer_id, line_no, item_id, batch_id, portion_id, quantity,
		reception_status, received_quantity, reception_notes, destination_batch_id`
)

// TransferRepository handles transfers and their lines
type TransferRepository struct {
	db *database.DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *database.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// CreateTransfer inserts a transfer together with its lines
func (r *TransferRepository) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.SentAt.IsZero() {
		t.SentAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transfers (id, source_branch_id, destination_branch_id, sent_by, status, notes, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		t.ID, t.SourceBranchID, t.DestinationBranchID, t.SentBy, t.Status, t.Notes, t.SentAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	if len(t.Items) == 0 {
		return nil
	}
	for i := range t.Items {
		it := &t.Items[i]
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		it.TransferID = t.ID
		if it.LineNo == 0 {
			it.LineNo = i + 1
		}
		if it.ReceptionStatus == "" {
			it.ReceptionStatus = domain.ReceptionPending
		}
	}

	itemsQuery := `
		INSERT INTO transfer_items (id, transfer_id, line_no, item_id, batch_id, portion_id, quantity, reception_status)
		VALUES (:id, :transfer_id, :line_no, :item_id, :batch_id, :portion_id, :quantity, :reception_status)
	`
	if _, err := r.db.Conn(ctx).NamedExecContext(ctx, itemsQuery, t.Items); err != nil {
		return mapErr(err)
	}
	return nil
}

// GetTransfer gets a transfer with its lines
func (r *TransferRepository) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return r.get(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
}

// LockTransfer gets a transfer with its lines and locks the transfer row
func (r *TransferRepository) LockTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return r.get(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id)
}

func (r *TransferRepository) get(ctx context.Context, query, id string) (*domain.Transfer, error) {
	var t domain.Transfer
	if err := r.db.Conn(ctx).GetContext(ctx, &t, query, id); err != nil {
		return nil, notFound(err, "transfer")
	}

	items := []domain.TransferItem{}
	itemsQuery := `SELECT ` + transferItemColumns + ` FROM transfer_items WHERE transfer_id = $1 ORDER BY line_no`
	if err := r.db.Conn(ctx).SelectContext(ctx, &items, itemsQuery, id); err != nil {
		return nil, err
	}
	t.Items = items
	return &t, nil
}

// UpdateTransferStatus writes the resolution fields of a transfer
func (r *TransferRepository) UpdateTransferStatus(ctx context.Context, t *domain.Transfer) error {
	query := `
		UPDATE transfers SET status = $2, received_by = $3, received_at = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, t.ID, t.Status, t.ReceivedBy, t.ReceivedAt).Scan(&t.UpdatedAt)
	return notFound(err, "transfer")
}

// UpdateTransferItem writes the reception outcome of one line
func (r *TransferRepository) UpdateTransferItem(ctx context.Context, it *domain.TransferItem) error {
	query := `
		UPDATE transfer_items SET
			reception_status = $2, received_quantity = $3, reception_notes = $4, destination_batch_id = $5
		WHERE id = $1
	`
	res, err := r.db.Conn(ctx).ExecContext(ctx, query,
		it.ID, it.ReceptionStatus, it.ReceivedQuantity, it.ReceptionNotes, it.DestinationBatchID)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("transfer item")
	}
	return nil
}

// ListTransfers lists transfers touching a branch, newest first. Lines are not loaded.
func (r *TransferRepository) ListTransfers(ctx context.Context, f domain.TransferFilter) ([]domain.Transfer, int, error) {
	var w where
	if f.BranchID != "" {
		w.add(`(source_branch_id = ? OR destination_branch_id = ?)`, f.BranchID)
	}
	if f.Status != "" {
		w.add(`status = ?`, f.Status)
	}

	var total int
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM transfers`+w.sql(), w.args...); err != nil {
		return nil, 0, err
	}

	limit, args := w.page(f.Page)
	transfers := []domain.Transfer{}
	query := `SELECT ` + transferColumns + ` FROM transfers` + w.sql() + ` ORDER BY sent_at DESC, id DESC` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &transfers, query, args...); err != nil {
		return nil, 0, err
	}
	return transfers, total, nil
}
