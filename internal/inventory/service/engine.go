package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

// StockEngine is the only writer of batch remaining quantities and portion
// statuses outside transfers. Every change it makes is paired with a ledger
// entry in the same transaction.
type StockEngine struct {
	core
}

// NewStockEngine creates a new stock engine
func NewStockEngine(stores Stores, publisher *events.InventoryEventPublisher, log *logger.Logger) *StockEngine {
	return &StockEngine{core: newCore(stores, publisher, log, "stock-engine")}
}

// DeductRequest takes stock of one item at one branch for a sale line.
type DeductRequest struct {
	ItemID    string
	BranchID  string
	SaleID    string
	Selection domain.Selection
}

// StockChange reports what a committed operation did.
type StockChange struct {
	ItemID   string               `json:"item_id"`
	BranchID string               `json:"branch_id"`
	Quantity decimal.Decimal      `json:"quantity"`
	Entries  []domain.LedgerEntry `json:"entries"`
}

// BatchIDs returns the distinct batches touched, in entry order.
func (c *StockChange) BatchIDs() []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, e := range c.Entries {
		if _, ok := seen[e.BatchID]; !ok {
			seen[e.BatchID] = struct{}{}
			ids = append(ids, e.BatchID)
		}
	}
	return ids
}

// PortionIDs returns the portions touched, in entry order.
func (c *StockChange) PortionIDs() []string {
	var ids []string
	for _, e := range c.Entries {
		if e.PortionID != nil {
			ids = append(ids, *e.PortionID)
		}
	}
	return ids
}

// DeductForSale takes stock for one sale line. Measured items draw from the
// branch's batches oldest first; portioned items flip the named portions to USED.
// Nothing is taken unless the whole request can be met.
func (s *StockEngine) DeductForSale(ctx context.Context, a *actor.Actor, req DeductRequest) (*StockChange, error) {
	if err := authorize(a, req.BranchID, "deduct_for_sale"); err != nil {
		return nil, err
	}
	if err := checkIDs("item", req.ItemID); err != nil {
		return nil, err
	}

	change := &StockChange{ItemID: req.ItemID, BranchID: req.BranchID}
	var item *domain.Item
	err := s.inTx(ctx, "deduct_for_sale", a, func(ctx context.Context) error {
		var err error
		item, err = s.stores.Items.GetItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if err := req.Selection.Check(item.TrackingType); err != nil {
			return err
		}

		base := domain.LedgerEntry{
			ItemID:   item.ID,
			BranchID: req.BranchID,
			UserID:   a.UserID(),
			Action:   domain.ActionDeductedForSale,
		}
		if req.SaleID != "" {
			done, err := s.stores.Ledger.SaleDeducted(ctx, req.SaleID, item.ID, req.BranchID)
			if err != nil {
				return err
			}
			if done {
				return domain.SaleAlreadyDeducted(req.SaleID, item.ID)
			}
			base.SaleID = ptr(req.SaleID)
		}

		if req.Selection.ByPortion() {
			return s.sellPortions(ctx, item, req, base, change)
		}
		return s.sellMeasured(ctx, item, req, base, change)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("item_id", item.ID).
		Str("branch_id", req.BranchID).
		Str("sale_id", req.SaleID).
		Str("quantity", change.Quantity.String()).
		Int("entries", len(change.Entries)).
		Msg("stock deducted for sale")

	s.publisher.PublishStockDeducted(ctx, messaging.StockDeductedEvent{
		SaleID:      req.SaleID,
		ItemID:      item.ID,
		BranchID:    req.BranchID,
		Quantity:    change.Quantity,
		BatchIDs:    change.BatchIDs(),
		PortionIDs:  change.PortionIDs(),
		PerformedBy: a.UserID(),
	})
	s.lowStock(ctx, item, req.BranchID)
	return change, nil
}

func (s *StockEngine) sellMeasured(ctx context.Context, item *domain.Item, req DeductRequest, base domain.LedgerEntry, change *StockChange) error {
	batches, err := s.stores.Batches.LockAvailableBatches(ctx, item.ID, req.BranchID)
	if err != nil {
		return err
	}

	available := decimal.Zero
	for _, b := range batches {
		available = available.Add(b.RemainingQuantity)
	}
	want := req.Selection.Quantity
	if want.GreaterThan(available) {
		return domain.InsufficientStock(want, available)
	}

	left := want
	for i := range batches {
		if !left.IsPositive() {
			break
		}
		b := &batches[i]
		take := decimal.Min(left, b.RemainingQuantity)

		before := domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
		after, err := before.Take(take)
		if err != nil {
			return err
		}
		b.RemainingQuantity = after.Remaining
		if err := s.stores.Batches.UpdateBatchQuantities(ctx, b); err != nil {
			return err
		}

		d := domain.NewDetails()
		d.QuantityChange = domain.Dec(take.Neg())
		d.Before = domain.Dec(before.Remaining)
		d.After = domain.Dec(after.Remaining)

		e := base
		e.BatchID = b.ID
		logged, err := s.entry(ctx, e, d)
		if err != nil {
			return err
		}
		change.Entries = append(change.Entries, logged)
		left = left.Sub(take)
	}
	change.Quantity = want
	return nil
}

func (s *StockEngine) sellPortions(ctx context.Context, item *domain.Item, req DeductRequest, base domain.LedgerEntry, change *StockChange) error {
	portions, err := lockPortions(ctx, s.stores.Portions, req.Selection.PortionIDs)
	if err != nil {
		return err
	}

	for i := range portions {
		p := &portions[i]
		if p.ItemID != item.ID {
			return domain.CrossItemMismatch("portion")
		}
		if p.BranchID != req.BranchID {
			return domain.CrossBranchMismatch("portion")
		}
		from := p.Status
		if _, err := p.Transition(domain.TriggerSell); err != nil {
			return err
		}
		if err := s.stores.Portions.UpdatePortion(ctx, p); err != nil {
			return err
		}

		d := domain.NewDetails()
		d.FromStatus = from
		d.ToStatus = p.Status

		e := base
		e.BatchID = p.BatchID
		e.PortionID = ptr(p.ID)
		logged, err := s.entry(ctx, e, d)
		if err != nil {
			return err
		}
		change.Entries = append(change.Entries, logged)
	}
	change.Quantity = decimal.NewFromInt(int64(len(portions)))
	return nil
}

// AdjustmentRequest records a loss. Measured items name a batch and a
// quantity; portioned items name the portions.
type AdjustmentRequest struct {
	Type       domain.AdjustmentType
	BranchID   string
	ItemID     string
	BatchID    string
	Quantity   decimal.Decimal
	PortionIDs []string
	Reason     string
}

// RecordAdjustment writes off stock. The whole request fails if any target
// is not available.
func (s *StockEngine) RecordAdjustment(ctx context.Context, a *actor.Actor, req AdjustmentRequest) (*StockChange, error) {
	if !req.Type.Valid() {
		return nil, errors.Validation(map[string]string{"type": "unknown adjustment type"})
	}
	if req.Type.RequiresReason() && strings.TrimSpace(req.Reason) == "" {
		return nil, domain.MissingReason(req.Type)
	}
	if err := authorize(a, req.BranchID, "record_adjustment"); err != nil {
		return nil, err
	}
	if len(req.PortionIDs) == 0 && req.BatchID == "" {
		return nil, errors.Validation(map[string]string{"batch_id": "batch_id or portion_ids is required"})
	}

	change := &StockChange{ItemID: req.ItemID, BranchID: req.BranchID}
	var item *domain.Item
	err := s.inTx(ctx, "record_adjustment", a, func(ctx context.Context) error {
		var err error
		if len(req.PortionIDs) > 0 {
			item, err = s.adjustPortions(ctx, a, req, change)
		} else {
			item, err = s.adjustMeasured(ctx, a, req, change)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	change.ItemID = item.ID

	s.logger.Info().
		Str("type", string(req.Type)).
		Str("item_id", item.ID).
		Str("branch_id", req.BranchID).
		Str("quantity", change.Quantity.String()).
		Int("entries", len(change.Entries)).
		Msg("adjustment recorded")

	for _, batchID := range change.BatchIDs() {
		s.publisher.PublishStockAdjusted(ctx, messaging.StockAdjustedEvent{
			ItemID:         item.ID,
			BranchID:       req.BranchID,
			BatchID:        batchID,
			AdjustmentType: string(req.Type),
			Quantity:       change.Quantity,
			PortionIDs:     change.PortionIDs(),
			Reason:         req.Reason,
			PerformedBy:    a.UserID(),
		})
	}
	s.lowStock(ctx, item, req.BranchID)
	return change, nil
}

func (s *StockEngine) adjustMeasured(ctx context.Context, a *actor.Actor, req AdjustmentRequest, change *StockChange) (*domain.Item, error) {
	if err := checkIDs("batch", req.BatchID); err != nil {
		return nil, err
	}
	b, err := s.stores.Batches.LockBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if b.BranchID != req.BranchID {
		return nil, domain.CrossBranchMismatch("batch")
	}
	if req.ItemID != "" && b.ItemID != req.ItemID {
		return nil, domain.CrossItemMismatch("batch")
	}
	item, err := s.stores.Items.GetItem(ctx, b.ItemID)
	if err != nil {
		return nil, err
	}
	if err := (domain.Selection{Quantity: req.Quantity}).Check(item.TrackingType); err != nil {
		return nil, err
	}

	before := domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
	after, err := before.Take(req.Quantity)
	if err != nil {
		return nil, err
	}
	b.RemainingQuantity = after.Remaining
	if err := s.stores.Batches.UpdateBatchQuantities(ctx, b); err != nil {
		return nil, err
	}

	d := domain.NewDetails()
	d.QuantityChange = domain.Dec(req.Quantity.Neg())
	d.Before = domain.Dec(before.Remaining)
	d.After = domain.Dec(after.Remaining)
	d.AdjustmentType = req.Type
	d.Reason = req.Reason

	logged, err := s.entry(ctx, domain.LedgerEntry{
		BatchID:  b.ID,
		ItemID:   b.ItemID,
		BranchID: b.BranchID,
		UserID:   a.UserID(),
		Action:   req.Type.LogAction(),
	}, d)
	if err != nil {
		return nil, err
	}
	change.Entries = append(change.Entries, logged)
	change.Quantity = req.Quantity
	return item, nil
}

func (s *StockEngine) adjustPortions(ctx context.Context, a *actor.Actor, req AdjustmentRequest, change *StockChange) (*domain.Item, error) {
	if !req.Quantity.IsZero() {
		return nil, domain.InvalidQuantity("quantity is not accepted for portion-tracked items")
	}
	portions, err := lockPortions(ctx, s.stores.Portions, req.PortionIDs)
	if err != nil {
		return nil, err
	}

	itemID := req.ItemID
	if itemID == "" {
		itemID = portions[0].ItemID
	}
	item, err := s.stores.Items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.TrackingType != domain.TrackingByPortion {
		return nil, domain.TrackingTypeMismatch(item.TrackingType)
	}

	for i := range portions {
		p := &portions[i]
		if p.ItemID != item.ID {
			return nil, domain.CrossItemMismatch("portion")
		}
		if p.BranchID != req.BranchID {
			return nil, domain.CrossBranchMismatch("portion")
		}
		if req.BatchID != "" && p.BatchID != req.BatchID {
			return nil, domain.CrossItemMismatch("portion")
		}
		from := p.Status
		if _, err := p.Transition(req.Type.Trigger()); err != nil {
			return nil, err
		}
		if err := s.stores.Portions.UpdatePortion(ctx, p); err != nil {
			return nil, err
		}

		d := domain.NewDetails()
		d.AdjustmentType = req.Type
		d.Reason = req.Reason
		d.FromStatus = from
		d.ToStatus = p.Status

		logged, err := s.entry(ctx, domain.LedgerEntry{
			BatchID:   p.BatchID,
			PortionID: ptr(p.ID),
			ItemID:    p.ItemID,
			BranchID:  p.BranchID,
			UserID:    a.UserID(),
			Action:    req.Type.LogAction(),
		}, d)
		if err != nil {
			return nil, err
		}
		change.Entries = append(change.Entries, logged)
	}
	change.Quantity = decimal.NewFromInt(int64(len(portions)))
	return item, nil
}

// CorrectBatchCount replaces a measured batch's received quantity after a
// physical recount. Remaining moves by the same delta so stock already
// consumed stays consumed. Elevated callers only.
func (s *StockEngine) CorrectBatchCount(ctx context.Context, a *actor.Actor, batchID string, corrected decimal.Decimal, reason string) (*domain.Batch, error) {
	if err := requireElevated(a, "correct_batch_count"); err != nil {
		return nil, err
	}
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	if err := checkIDs("batch", batchID); err != nil {
		return nil, err
	}

	var (
		b      *domain.Batch
		before domain.Measured
	)
	err := s.inTx(ctx, "correct_batch_count", a, func(ctx context.Context) error {
		var err error
		b, err = s.stores.Batches.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		item, err := s.stores.Items.GetItem(ctx, b.ItemID)
		if err != nil {
			return err
		}
		if item.TrackingType != domain.TrackingByMeasure {
			return domain.TrackingTypeMismatch(item.TrackingType)
		}

		before = domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
		after, delta, err := before.Correct(corrected)
		if err != nil {
			return err
		}
		b.QuantityReceived = after.Received
		b.RemainingQuantity = after.Remaining
		if err := s.stores.Batches.UpdateBatchQuantities(ctx, b); err != nil {
			return err
		}

		d := domain.NewDetails()
		d.QuantityChange = domain.Dec(delta)
		d.Before = domain.Dec(before.Remaining)
		d.After = domain.Dec(after.Remaining)
		d.ReceivedBefore = domain.Dec(before.Received)
		d.ReceivedAfter = domain.Dec(after.Received)
		d.Reason = reason

		_, err = s.entry(ctx, domain.LedgerEntry{
			BatchID:  b.ID,
			ItemID:   b.ItemID,
			BranchID: b.BranchID,
			UserID:   a.UserID(),
			Action:   domain.ActionBatchCountCorrected,
		}, d)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", b.ID).
		Str("received_before", before.Received.String()).
		Str("received_after", b.QuantityReceived.String()).
		Str("remaining_after", b.RemainingQuantity.String()).
		Msg("batch count corrected")

	s.publisher.PublishBatchCorrected(ctx, messaging.BatchCorrectedEvent{
		BatchID:     b.ID,
		ItemID:      b.ItemID,
		BranchID:    b.BranchID,
		Previous:    before.Received,
		New:         b.QuantityReceived,
		PerformedBy: a.UserID(),
	})
	return b, nil
}

// RestorePortions reverses the latest adjustment of each portion, returning
// it to UNUSED through RESTORED. Elevated callers only.
func (s *StockEngine) RestorePortions(ctx context.Context, a *actor.Actor, portionIDs []string, reason string) (*StockChange, error) {
	if err := requireElevated(a, "restore_portions"); err != nil {
		return nil, err
	}
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	if len(portionIDs) == 0 {
		return nil, errors.Validation(map[string]string{"portion_ids": "this field is required"})
	}
	if err := (domain.Selection{PortionIDs: portionIDs}).Check(domain.TrackingByPortion); err != nil {
		return nil, err
	}

	change := &StockChange{}
	err := s.inTx(ctx, "restore_portions", a, func(ctx context.Context) error {
		portions, err := lockPortions(ctx, s.stores.Portions, portionIDs)
		if err != nil {
			return err
		}
		for i := range portions {
			p := &portions[i]
			from := p.Status
			if !from.Restorable() {
				return domain.InvalidStateTransition(p.ID, from, domain.TriggerRestore)
			}
			source, err := s.stores.Ledger.LastAdjustment(ctx, p.ID)
			if err != nil {
				if domain.IsNotFound(err) {
					return domain.InvalidLogReference(p.ID, "no adjustment recorded for portion")
				}
				return err
			}

			via, err := p.Transition(domain.TriggerRestore)
			if err != nil {
				return err
			}
			if _, err := p.Transition(domain.TriggerReactivate); err != nil {
				return err
			}
			if err := s.stores.Portions.UpdatePortion(ctx, p); err != nil {
				return err
			}

			d := domain.NewDetails()
			d.FromStatus = from
			d.ToStatus = p.Status
			d.Via = []domain.PortionStatus{via}
			d.SourceLog = source.ID
			d.Reason = reason

			logged, err := s.entry(ctx, domain.LedgerEntry{
				BatchID:   p.BatchID,
				PortionID: ptr(p.ID),
				ItemID:    p.ItemID,
				BranchID:  p.BranchID,
				UserID:    a.UserID(),
				Action:    domain.ActionPortionRestored,
			}, d)
			if err != nil {
				return err
			}
			change.Entries = append(change.Entries, logged)
			change.ItemID = p.ItemID
			change.BranchID = p.BranchID
		}
		change.Quantity = decimal.NewFromInt(int64(len(portions)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Strs("portion_ids", change.PortionIDs()).
		Msg("portions restored")

	for _, e := range change.Entries {
		s.publisher.PublishStockRestored(ctx, messaging.StockRestoredEvent{
			LogID:       e.ID,
			ItemID:      e.ItemID,
			BranchID:    e.BranchID,
			BatchID:     e.BatchID,
			Quantity:    decimal.NewFromInt(1),
			PortionIDs:  []string{*e.PortionID},
			PerformedBy: a.UserID(),
		})
	}
	return change, nil
}

// RestoreQuantityRequest returns amounts written off by earlier adjustment
// entries of one measured batch.
type RestoreQuantityRequest struct {
	BatchID string
	Sources []domain.RestoredAmount
	Reason  string
}

// RestoreQuantity puts back stock taken by earlier adjustments. Each amount is
// capped by what its source entry deducted minus what earlier restorations
// already returned from it. Elevated callers only.
func (s *StockEngine) RestoreQuantity(ctx context.Context, a *actor.Actor, req RestoreQuantityRequest) (*StockChange, error) {
	if err := requireElevated(a, "restore_quantity"); err != nil {
		return nil, err
	}
	if err := requireReason(req.Reason); err != nil {
		return nil, err
	}
	if len(req.Sources) == 0 {
		return nil, errors.Validation(map[string]string{"sources": "this field is required"})
	}
	if err := checkIDs("batch", req.BatchID); err != nil {
		return nil, err
	}

	total := decimal.Zero
	seen := map[string]struct{}{}
	for _, src := range req.Sources {
		if _, dup := seen[src.SourceLog]; dup {
			return nil, domain.InvalidLogReference(src.SourceLog, "listed twice")
		}
		seen[src.SourceLog] = struct{}{}
		if err := checkIDs("ledger entry", src.SourceLog); err != nil {
			return nil, domain.InvalidLogReference(src.SourceLog, "not found")
		}
		if err := domain.CheckQuantity(src.Amount); err != nil {
			return nil, err
		}
		total = total.Add(src.Amount)
	}

	change := &StockChange{Quantity: total}
	var b *domain.Batch
	err := s.inTx(ctx, "restore_quantity", a, func(ctx context.Context) error {
		var err error
		b, err = s.stores.Batches.LockBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		item, err := s.stores.Items.GetItem(ctx, b.ItemID)
		if err != nil {
			return err
		}
		if item.TrackingType != domain.TrackingByMeasure {
			return domain.TrackingTypeMismatch(item.TrackingType)
		}

		restored, err := s.restoredSoFar(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, src := range req.Sources {
			if err := s.checkSource(ctx, b, src, restored[src.SourceLog]); err != nil {
				return err
			}
		}

		before := domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
		after, err := before.Put(total)
		if err != nil {
			return err
		}
		b.RemainingQuantity = after.Remaining
		if err := s.stores.Batches.UpdateBatchQuantities(ctx, b); err != nil {
			return err
		}

		d := domain.NewDetails()
		d.QuantityChange = domain.Dec(total)
		d.Before = domain.Dec(before.Remaining)
		d.After = domain.Dec(after.Remaining)
		d.Sources = req.Sources
		if len(req.Sources) == 1 {
			d.SourceLog = req.Sources[0].SourceLog
		}
		d.Reason = req.Reason

		logged, err := s.entry(ctx, domain.LedgerEntry{
			BatchID:  b.ID,
			ItemID:   b.ItemID,
			BranchID: b.BranchID,
			UserID:   a.UserID(),
			Action:   domain.ActionQuantityRestored,
		}, d)
		if err != nil {
			return err
		}
		change.Entries = append(change.Entries, logged)
		change.ItemID = b.ItemID
		change.BranchID = b.BranchID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", b.ID).
		Str("quantity", total.String()).
		Int("sources", len(req.Sources)).
		Msg("quantity restored")

	s.publisher.PublishStockRestored(ctx, messaging.StockRestoredEvent{
		LogID:       change.Entries[0].ID,
		ItemID:      b.ItemID,
		BranchID:    b.BranchID,
		BatchID:     b.ID,
		Quantity:    total,
		PerformedBy: a.UserID(),
	})
	return change, nil
}

// restoredSoFar sums, per source entry, what earlier restorations of the batch returned.
func (s *StockEngine) restoredSoFar(ctx context.Context, batchID string) (map[string]decimal.Decimal, error) {
	prior, err := s.stores.Ledger.BatchEntries(ctx, batchID, domain.ActionQuantityRestored)
	if err != nil {
		return nil, err
	}
	restored := map[string]decimal.Decimal{}
	for _, e := range prior {
		d, err := domain.DecodeDetails(e.Details)
		if err != nil {
			return nil, domain.UnparsableDetails(e.ID)
		}
		for _, src := range d.Sources {
			restored[src.SourceLog] = restored[src.SourceLog].Add(src.Amount)
		}
	}
	return restored, nil
}

func (s *StockEngine) checkSource(ctx context.Context, b *domain.Batch, src domain.RestoredAmount, already decimal.Decimal) error {
	e, err := s.stores.Ledger.GetEntry(ctx, src.SourceLog)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.InvalidLogReference(src.SourceLog, "not found")
		}
		return err
	}
	if e.BatchID != b.ID {
		return domain.InvalidLogReference(e.ID, "belongs to another batch")
	}
	if _, ok := e.Action.Adjustment(); !ok {
		return domain.InvalidLogReference(e.ID, "not an adjustment")
	}
	if e.PortionID != nil {
		return domain.InvalidLogReference(e.ID, "portion adjustments are restored by portion")
	}

	deducted, err := domain.DeductedAmount(e.Details)
	if err != nil {
		return domain.UnparsableDetails(e.ID)
	}
	left := deducted.Sub(already)
	if src.Amount.GreaterThan(left) {
		return domain.InvalidQuantity("restore amount exceeds what entry " + e.ID + " still has to give back (" + left.StringFixed(2) + ")")
	}
	return nil
}

// BatchUpdate names the batch fields to change. Nil means unchanged.
// BatchNumber, QuantityReceived, BranchID and ItemID are accepted only so a
// change to them can be refused.
type BatchUpdate struct {
	Label               *string
	Source              *string
	UnitCost            *decimal.Decimal
	ExpirationDate      *time.Time
	ClearExpirationDate bool

	BatchNumber      *string
	QuantityReceived *decimal.Decimal
	BranchID         *string
	ItemID           *string
}

// immutable returns the first protected field the update would change.
func (u BatchUpdate) immutable(b *domain.Batch) (string, bool) {
	switch {
	case u.BatchNumber != nil && *u.BatchNumber != b.BatchNumber:
		return "batch_number", true
	case u.QuantityReceived != nil && !u.QuantityReceived.Equal(b.QuantityReceived):
		return "quantity_received", true
	case u.BranchID != nil && *u.BranchID != b.BranchID:
		return "branch_id", true
	case u.ItemID != nil && *u.ItemID != b.ItemID:
		return "item_id", true
	}
	return "", false
}

// UpdateBatch edits descriptive batch fields and logs BATCH_UPDATED with
// every changed value. Quantities never move here.
func (s *StockEngine) UpdateBatch(ctx context.Context, a *actor.Actor, batchID string, upd BatchUpdate) (*domain.Batch, error) {
	if err := checkIDs("batch", batchID); err != nil {
		return nil, err
	}
	if upd.UnitCost != nil {
		if err := domain.CheckNonNegative(*upd.UnitCost); err != nil {
			return nil, err
		}
	}

	var (
		b       *domain.Batch
		changes = map[string]domain.Change{}
	)
	err := s.inTx(ctx, "update_batch", a, func(ctx context.Context) error {
		var err error
		b, err = s.stores.Batches.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if err := authorize(a, b.BranchID, "update_batch"); err != nil {
			return err
		}
		if field, bad := upd.immutable(b); bad {
			return domain.ImmutableFieldViolation(field)
		}

		if upd.Label != nil && (b.Label == nil || *b.Label != *upd.Label) {
			changes["label"] = domain.Change{From: b.Label, To: *upd.Label}
			b.Label = ptr(*upd.Label)
		}
		if upd.Source != nil && *upd.Source != b.Source {
			changes["source"] = domain.Change{From: b.Source, To: *upd.Source}
			b.Source = *upd.Source
		}
		if upd.UnitCost != nil && !upd.UnitCost.Equal(b.UnitCost) {
			changes["unit_cost"] = domain.Change{From: b.UnitCost, To: *upd.UnitCost}
			b.UnitCost = *upd.UnitCost
		}
		switch {
		case upd.ClearExpirationDate && b.ExpirationDate != nil:
			changes["expiration_date"] = domain.Change{From: dateString(b.ExpirationDate), To: nil}
			b.ExpirationDate = nil
		case upd.ExpirationDate != nil && (b.ExpirationDate == nil || !sameDay(*b.ExpirationDate, *upd.ExpirationDate)):
			changes["expiration_date"] = domain.Change{From: dateString(b.ExpirationDate), To: dateString(upd.ExpirationDate)}
			b.ExpirationDate = ptr(*upd.ExpirationDate)
		}
		if len(changes) == 0 {
			return nil
		}

		if err := s.stores.Batches.UpdateBatchMetadata(ctx, b); err != nil {
			return err
		}
		d := domain.NewDetails()
		d.Changes = changes
		_, err = s.entry(ctx, domain.LedgerEntry{
			BatchID:  b.ID,
			ItemID:   b.ItemID,
			BranchID: b.BranchID,
			UserID:   a.UserID(),
			Action:   domain.ActionBatchUpdated,
		}, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return b, nil
	}

	fields := make(map[string]any, len(changes))
	for k, c := range changes {
		fields[k] = c.To
	}
	s.logger.Info().Str("batch_id", b.ID).Interface("fields", fields).Msg("batch updated")
	s.publisher.PublishBatchUpdated(ctx, messaging.BatchUpdatedEvent{
		BatchID:     b.ID,
		ItemID:      b.ItemID,
		BranchID:    b.BranchID,
		Fields:      fields,
		PerformedBy: a.UserID(),
	})
	return b, nil
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Format(dateLayout) == b.UTC().Format(dateLayout)
}

const dateLayout = "2006-01-02"

func dateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return ptr(t.UTC().Format(dateLayout))
}
