package service

import (
	"context"
	"fmt"
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

// CatalogService manages items, per-branch stock settings and batch receipt.
type CatalogService struct {
	core
}

// NewCatalogService creates a new catalog service
func NewCatalogService(stores Stores, publisher *events.InventoryEventPublisher, log *logger.Logger) *CatalogService {
	return &CatalogService{core: newCore(stores, publisher, log, "catalog")}
}

func checkItem(item *domain.Item) error {
	details := map[string]string{}
	if strings.TrimSpace(item.Name) == "" {
		details["name"] = "this field is required"
	}
	if strings.TrimSpace(item.Code) == "" {
		details["code"] = "this field is required"
	}
	if strings.TrimSpace(item.Unit) == "" {
		details["unit"] = "this field is required"
	}
	if !item.TrackingType.Valid() {
		details["tracking_type"] = "must be BY_PORTION or BY_MEASURE"
	}
	if item.DaysToWarnBeforeExpiry < 0 {
		details["days_to_warn_before_expiry"] = "must not be negative"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// CreateItem adds a catalog entry. The catalog is shared by all branches,
// so only elevated callers may change it.
func (s *CatalogService) CreateItem(ctx context.Context, a *actor.Actor, item *domain.Item) error {
	if err := requireElevated(a, "create_item"); err != nil {
		return err
	}
	if err := checkItem(item); err != nil {
		return err
	}
	if err := s.stores.Items.CreateItem(ctx, item); err != nil {
		return err
	}
	s.logger.Info().Str("item_id", item.ID).Str("code", item.Code).Msg("item created")
	return nil
}

// UpdateItem replaces an item's descriptive fields. The tracking type is
// frozen once the item has a batch.
func (s *CatalogService) UpdateItem(ctx context.Context, a *actor.Actor, item *domain.Item) error {
	if err := requireElevated(a, "update_item"); err != nil {
		return err
	}
	if err := checkIDs("item", item.ID); err != nil {
		return err
	}
	if err := checkItem(item); err != nil {
		return err
	}

	return s.inTx(ctx, "update_item", a, func(ctx context.Context) error {
		current, err := s.stores.Items.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if current.TrackingType != item.TrackingType {
			n, err := s.stores.Batches.CountBatches(ctx, item.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return domain.ImmutableFieldViolation("tracking_type")
			}
		}
		return s.stores.Items.UpdateItem(ctx, item)
	})
}

// GetItem returns one item
func (s *CatalogService) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	if err := checkIDs("item", id); err != nil {
		return nil, err
	}
	return s.stores.Items.GetItem(ctx, id)
}

// ListItems lists items
func (s *CatalogService) ListItems(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int, error) {
	return s.stores.Items.ListItems(ctx, f)
}

// SetBranchStock stocks or unstocks an item at a branch and sets its low-stock threshold.
func (s *CatalogService) SetBranchStock(ctx context.Context, a *actor.Actor, bs *domain.BranchStock) error {
	if err := authorize(a, bs.BranchID, "set_branch_stock"); err != nil {
		return err
	}
	if err := checkIDs("item", bs.ItemID); err != nil {
		return err
	}
	if err := domain.CheckNonNegative(bs.LowStockThreshold); err != nil {
		return err
	}
	if _, err := s.stores.Items.GetItem(ctx, bs.ItemID); err != nil {
		return err
	}
	return s.stores.Items.UpsertBranchStock(ctx, bs)
}

// ListBranchStock lists the stock settings of a branch
func (s *CatalogService) ListBranchStock(ctx context.Context, branchID string) ([]domain.BranchStock, error) {
	return s.stores.Items.ListBranchStock(ctx, branchID)
}

// ReceiveRequest describes an incoming delivery.
type ReceiveRequest struct {
	ItemID         string
	BranchID       string
	BatchNumber    string
	Label          *string
	Source         string
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	ReceivedAt     *time.Time
	ExpirationDate *time.Time
}

// Receipt is a created batch and, for portioned items, its portions.
type Receipt struct {
	Batch    *domain.Batch    `json:"batch"`
	Portions []domain.Portion `json:"portions,omitempty"`
}

// ReceiveBatch books a delivery into stock. Portioned items get one UNUSED
// portion per unit received, so the quantity must be whole.
func (s *CatalogService) ReceiveBatch(ctx context.Context, a *actor.Actor, req ReceiveRequest) (*Receipt, error) {
	if err := authorize(a, req.BranchID, "receive_batch"); err != nil {
		return nil, err
	}
	if err := checkIDs("item", req.ItemID); err != nil {
		return nil, err
	}
	if err := domain.CheckQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if err := domain.CheckNonNegative(req.UnitCost); err != nil {
		return nil, err
	}

	now := s.now()
	b := &domain.Batch{
		ID:                uuid.NewString(),
		ItemID:            req.ItemID,
		BranchID:          req.BranchID,
		BatchNumber:       strings.TrimSpace(req.BatchNumber),
		Label:             req.Label,
		Source:            req.Source,
		QuantityReceived:  req.Quantity,
		RemainingQuantity: req.Quantity,
		UnitCost:          req.UnitCost,
		ReceivedAt:        now,
		ExpirationDate:    req.ExpirationDate,
	}
	if req.ReceivedAt != nil {
		b.ReceivedAt = req.ReceivedAt.UTC()
	}
	if b.Source == "" {
		b.Source = domain.SourcePurchase
	}
	if b.BatchNumber == "" {
		b.BatchNumber = fmt.Sprintf("%s-%s", b.ReceivedAt.Format("20060102"), shortID(b.ID))
	}

	receipt := &Receipt{Batch: b}
	var item *domain.Item
	err := s.inTx(ctx, "receive_batch", a, func(ctx context.Context) error {
		var err error
		// Shared lock: the tracking type cannot change while the batch is carved.
		item, err = s.stores.Items.ShareItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if item.TrackingType == domain.TrackingByPortion && !domain.IsWhole(req.Quantity) {
			return domain.InvalidQuantity("portion-tracked items are received in whole units")
		}
		if err := s.stores.Batches.CreateBatch(ctx, b); err != nil {
			return err
		}

		if item.TrackingType == domain.TrackingByPortion {
			receipt.Portions = carvePortions(item, b)
			if err := s.stores.Portions.CreatePortions(ctx, receipt.Portions); err != nil {
				return err
			}
		}

		d := domain.NewDetails()
		d.QuantityChange = domain.Dec(req.Quantity)
		d.After = domain.Dec(req.Quantity)
		_, err = s.entry(ctx, domain.LedgerEntry{
			BatchID:  b.ID,
			ItemID:   b.ItemID,
			BranchID: b.BranchID,
			UserID:   a.UserID(),
			Action:   domain.ActionBatchCreated,
		}, d)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", b.ID).
		Str("item_id", item.ID).
		Str("branch_id", b.BranchID).
		Str("quantity", req.Quantity.String()).
		Int("portions", len(receipt.Portions)).
		Msg("batch received")

	s.publisher.PublishBatchReceived(ctx, messaging.BatchReceivedEvent{
		BatchID:          b.ID,
		ItemID:           b.ItemID,
		BranchID:         b.BranchID,
		Source:           b.Source,
		QuantityReceived: b.QuantityReceived,
		Portions:         len(receipt.Portions),
	})
	return receipt, nil
}

// carvePortions makes one UNUSED portion per received unit, labelled
// <item code>-<batch short id>-<nnn>.
func carvePortions(item *domain.Item, b *domain.Batch) []domain.Portion {
	n := int(b.QuantityReceived.IntPart())
	portions := make([]domain.Portion, n)
	for i := range portions {
		portions[i] = domain.Portion{
			ID:       uuid.NewString(),
			BatchID:  b.ID,
			ItemID:   item.ID,
			BranchID: b.BranchID,
			Label:    fmt.Sprintf("%s-%s-%03d", item.Code, shortID(b.ID), i+1),
			Status:   domain.PortionUnused,
		}
	}
	return portions
}

// BatchView is a batch with its derived stock figures.
type BatchView struct {
	domain.Batch
	TrackingType domain.TrackingType `json:"tracking_type"`
	OnHand       decimal.Decimal     `json:"on_hand"`
	ExpiryStatus domain.ExpiryStatus `json:"expiry_status,omitempty"`
	Portions     []domain.Portion    `json:"portions,omitempty"`

	// OnHandElsewhere counts unused portions of this batch that were
	// transferred to other branches, keyed by branch.
	OnHandElsewhere map[string]decimal.Decimal `json:"on_hand_elsewhere,omitempty"`
}

// GetBatch returns a batch with its portions and on-hand stock.
func (s *CatalogService) GetBatch(ctx context.Context, id string) (*BatchView, error) {
	if err := checkIDs("batch", id); err != nil {
		return nil, err
	}
	b, err := s.stores.Batches.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	item, err := s.stores.Items.GetItem(ctx, b.ItemID)
	if err != nil {
		return nil, err
	}

	var portions []domain.Portion
	if item.TrackingType == domain.TrackingByPortion {
		if portions, err = s.stores.Portions.ListPortions(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	// Portions shipped elsewhere no longer count towards this batch's branch.
	local := make([]domain.Portion, 0, len(portions))
	var elsewhere map[string]decimal.Decimal
	for _, p := range portions {
		switch {
		case p.BranchID == b.BranchID:
			local = append(local, p)
		case p.Status == domain.PortionUnused:
			if elsewhere == nil {
				elsewhere = map[string]decimal.Decimal{}
			}
			elsewhere[p.BranchID] = elsewhere[p.BranchID].Add(decimal.NewFromInt(1))
		}
	}
	model := domain.ModelOf(item.TrackingType, b, local)
	return &BatchView{
		Batch:           *b,
		TrackingType:    item.TrackingType,
		OnHand:          model.OnHand(),
		ExpiryStatus:    domain.ExpiryStatusFor(b.ExpirationDate, item.DaysToWarnBeforeExpiry, s.now()),
		Portions:        portions,
		OnHandElsewhere: elsewhere,
	}, nil
}

// ListBatches lists batches
func (s *CatalogService) ListBatches(ctx context.Context, f domain.BatchFilter) ([]domain.Batch, int, error) {
	return s.stores.Batches.ListBatches(ctx, f)
}
