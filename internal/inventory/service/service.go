// Package service holds the inventory ledger core: the stock engine, the
// transfer state machine and the read-side queries.
//
// Every mutation runs in one transaction through Stores.Tx, locks the rows it
// reads before validating them and writes its ledger entries in the same
// transaction. Events are published and Info logs written only after commit.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

// core is shared by every service.
type core struct {
	stores    Stores
	publisher *events.InventoryEventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

func newCore(stores Stores, publisher *events.InventoryEventPublisher, log *logger.Logger, component string) core {
	if log == nil {
		log = logger.NewNop()
	}
	return core{
		stores:    stores,
		publisher: publisher,
		logger:    log.WithComponent(component),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// inTx runs fn in a transaction and logs a rollback. Business rejections
// log at Warn, everything else at Error.
func (c *core) inTx(ctx context.Context, op string, a *actor.Actor, fn func(ctx context.Context) error) error {
	err := c.stores.Tx.WithTx(ctx, fn)
	if err == nil {
		return nil
	}

	event := c.logger.Error()
	if errors.IsBusiness(err) {
		event = c.logger.Warn()
	}
	event.Err(err).
		Str("operation", op).
		Str("actor", a.String()).
		Str("code", errors.Code(err)).
		Msg("stock operation rolled back")
	return err
}

// entry appends one ledger entry. Callers fill everything but the details.
func (c *core) entry(ctx context.Context, e domain.LedgerEntry, d *domain.Details) (domain.LedgerEntry, error) {
	raw, err := d.Encode()
	if err != nil {
		return e, err
	}
	e.Details = raw
	if err := c.stores.Ledger.AppendEntry(ctx, &e); err != nil {
		return e, err
	}
	return e, nil
}

// lowStock publishes inventory.stock.low when an item sits at or below its
// branch threshold after a committed change. Failures are only logged.
func (c *core) lowStock(ctx context.Context, item *domain.Item, branchID string) {
	if c.publisher == nil {
		return
	}
	settings, err := c.stores.Items.GetBranchStock(ctx, item.ID, branchID)
	if err != nil || !settings.IsStocked {
		return
	}
	onHand, err := onHandOf(ctx, c.stores, item, branchID)
	if err != nil {
		c.logger.Warn().Err(err).Str("item_id", item.ID).Msg("failed to compute stock level")
		return
	}
	status := domain.StockStatusFor(onHand, settings.LowStockThreshold)
	if status == domain.StockInStock {
		return
	}
	c.publisher.PublishStockLow(ctx, messaging.StockLowEvent{
		ItemID:    item.ID,
		BranchID:  branchID,
		Quantity:  onHand,
		Threshold: settings.LowStockThreshold,
		Status:    string(status),
	})
}

func authorize(a *actor.Actor, branchID, op string) error {
	if !a.CanActOn(branchID) {
		return domain.PermissionDenied(op)
	}
	return nil
}

func requireElevated(a *actor.Actor, op string) error {
	if a == nil || !a.Elevated {
		return domain.PermissionDenied(op)
	}
	return nil
}

// checkIDs rejects malformed ids up front so stores only ever see UUIDs.
func checkIDs(resource string, ids ...string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return domain.NotFound(resource)
		}
	}
	return nil
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return errors.Validation(map[string]string{"reason": "this field is required"})
	}
	return nil
}

// lockPortions locks every id and fails if any is unknown.
func lockPortions(ctx context.Context, store PortionStore, ids []string) ([]domain.Portion, error) {
	if err := checkIDs("portion", ids...); err != nil {
		return nil, err
	}
	portions, err := store.LockPortions(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(portions) != len(ids) {
		return nil, domain.NotFound("portion")
	}
	return portions, nil
}

// lockBatches locks every id in FIFO order and indexes the rows by id.
func lockBatches(ctx context.Context, store BatchStore, ids []string) (map[string]*domain.Batch, error) {
	if err := checkIDs("batch", ids...); err != nil {
		return nil, err
	}
	rows, err := store.LockBatches(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Batch, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, domain.NotFound("batch")
		}
	}
	return byID, nil
}

// onHandOf is the available stock of one item at one branch.
func onHandOf(ctx context.Context, stores Stores, item *domain.Item, branchID string) (decimal.Decimal, error) {
	if item.TrackingType == domain.TrackingByPortion {
		counts, err := stores.Portions.UnusedCounts(ctx, branchID)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromInt(int64(counts[item.ID])), nil
	}
	totals, err := stores.Batches.RemainingTotals(ctx, branchID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return totals[item.ID], nil
}

func ptr[T any](v T) *T {
	return &v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
