package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/logger"
)

// StockQuery derives on-hand levels and expiry flags. It never writes.
type StockQuery struct {
	core
}

// NewStockQuery creates a new stock query service
func NewStockQuery(stores Stores, publisher *events.InventoryEventPublisher, log *logger.Logger) *StockQuery {
	return &StockQuery{core: newCore(stores, publisher, log, "stock_query")}
}

// StockLevels returns one row per item stocked at the branch, ordered by item name.
func (q *StockQuery) StockLevels(ctx context.Context, branchID string) ([]domain.StockLevel, error) {
	settings, err := q.stores.Items.ListBranchStock(ctx, branchID)
	if err != nil {
		return nil, err
	}
	totals, err := q.stores.Batches.RemainingTotals(ctx, branchID)
	if err != nil {
		return nil, err
	}
	counts, err := q.stores.Portions.UnusedCounts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	expiring, err := q.ExpiringBatches(ctx, branchID)
	if err != nil {
		return nil, err
	}
	soon := map[string]int{}
	expired := map[string]int{}
	for _, b := range expiring {
		switch b.Status {
		case domain.ExpiryExpired:
			expired[b.ItemID]++
		case domain.ExpiryExpiringSoon:
			soon[b.ItemID]++
		}
	}

	levels := make([]domain.StockLevel, 0, len(settings))
	for _, bs := range settings {
		if !bs.IsStocked {
			continue
		}
		item, err := q.stores.Items.GetItem(ctx, bs.ItemID)
		if err != nil {
			return nil, err
		}
		onHand := totals[item.ID]
		if item.TrackingType == domain.TrackingByPortion {
			onHand = decimal.NewFromInt(int64(counts[item.ID]))
		}
		levels = append(levels, domain.StockLevel{
			ItemID:            item.ID,
			ItemName:          item.Name,
			ItemCode:          item.Code,
			Unit:              item.Unit,
			TrackingType:      item.TrackingType,
			BranchID:          branchID,
			OnHand:            onHand,
			LowStockThreshold: bs.LowStockThreshold,
			Status:            domain.StockStatusFor(onHand, bs.LowStockThreshold),
			ExpiringBatches:   soon[item.ID],
			ExpiredBatches:    expired[item.ID],
		})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].ItemName != levels[j].ItemName {
			return levels[i].ItemName < levels[j].ItemName
		}
		return levels[i].ItemID < levels[j].ItemID
	})
	return levels, nil
}

// ExpiringBatches lists batches with stock at the branch that are expired
// or inside their item's warning window, soonest first. Portion batches are
// found through the unused portions located at the branch, so transferred
// portions are flagged where they now sit.
func (q *StockQuery) ExpiringBatches(ctx context.Context, branchID string) ([]domain.ExpiringBatch, error) {
	now := q.now()
	items := map[string]*domain.Item{}
	itemOf := func(id string) (*domain.Item, error) {
		if item, ok := items[id]; ok {
			return item, nil
		}
		item, err := q.stores.Items.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items[id] = item
		return item, nil
	}

	var out []domain.ExpiringBatch
	add := func(b domain.Batch, item *domain.Item, onHand decimal.Decimal) {
		status := domain.ExpiryStatusFor(b.ExpirationDate, item.DaysToWarnBeforeExpiry, now)
		if status != domain.ExpiryExpiringSoon && status != domain.ExpiryExpired {
			return
		}
		if !onHand.IsPositive() {
			return
		}
		out = append(out, domain.ExpiringBatch{
			Batch:     b,
			LocatedAt: branchID,
			ItemName:  item.Name,
			OnHand:    onHand,
			Status:    status,
			DaysLeft:  domain.DaysUntil(*b.ExpirationDate, now),
		})
	}

	batches, _, err := q.stores.Batches.ListBatches(ctx, domain.BatchFilter{BranchID: branchID, WithExpiry: true})
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		item, err := itemOf(b.ItemID)
		if err != nil {
			return nil, err
		}
		if item.TrackingType == domain.TrackingByPortion {
			continue
		}
		add(b, item, b.RemainingQuantity)
	}

	unused, err := q.stores.Portions.UnusedByBatch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	for batchID, n := range unused {
		b, err := q.stores.Batches.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if b.ExpirationDate == nil {
			continue
		}
		item, err := itemOf(b.ItemID)
		if err != nil {
			return nil, err
		}
		add(*b, item, decimal.NewFromInt(int64(n)))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExpirationDate.Equal(*out[j].ExpirationDate) {
			return out[i].ExpirationDate.Before(*out[j].ExpirationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
