package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

// TransferService moves stock between branches. Stock leaves the source when
// the transfer is created and either lands at the destination on receipt or
// returns to the source on cancel or reject.
type TransferService struct {
	core
}

// NewTransferService creates a new transfer service
func NewTransferService(stores Stores, publisher *events.InventoryEventPublisher, log *logger.Logger) *TransferService {
	return &TransferService{core: newCore(stores, publisher, log, "transfers")}
}

// TransferLine is one requested movement: a quantity from a measured batch,
// or a set of portions.
type TransferLine struct {
	ItemID     string
	BatchID    string
	Quantity   decimal.Decimal
	PortionIDs []string
}

// CreateTransferRequest opens a transfer.
type CreateTransferRequest struct {
	SourceBranchID      string
	DestinationBranchID string
	Notes               *string
	Lines               []TransferLine
}

// shipment is the pre-write state of one transfer item.
type shipment struct {
	before decimal.Decimal
	after  decimal.Decimal
	from   domain.PortionStatus
}

// Create validates every line, reserves the stock at the source and records
// the transfer as PENDING. Portion lines expand to one transfer item per portion.
func (s *TransferService) Create(ctx context.Context, a *actor.Actor, req CreateTransferRequest) (*domain.Transfer, error) {
	if req.SourceBranchID == req.DestinationBranchID {
		return nil, domain.SameBranchTransfer()
	}
	if err := authorize(a, req.SourceBranchID, "create_transfer"); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, errors.Validation(map[string]string{"lines": "at least one line is required"})
	}

	var batchIDs, portionIDs []string
	for _, line := range req.Lines {
		if err := checkIDs("item", line.ItemID); err != nil {
			return nil, err
		}
		if len(line.PortionIDs) > 0 {
			portionIDs = append(portionIDs, line.PortionIDs...)
		} else {
			batchIDs = append(batchIDs, line.BatchID)
		}
	}
	if len(portionIDs) > 0 {
		if err := (domain.Selection{PortionIDs: portionIDs}).Check(domain.TrackingByPortion); err != nil {
			return nil, err
		}
	}

	t := &domain.Transfer{
		SourceBranchID:      req.SourceBranchID,
		DestinationBranchID: req.DestinationBranchID,
		SentBy:              a.UserID(),
		Status:              domain.TransferPending,
		Notes:               req.Notes,
		SentAt:              s.now(),
	}

	err := s.inTx(ctx, "create_transfer", a, func(ctx context.Context) error {
		batches, err := lockBatches(ctx, s.stores.Batches, uniqueIDs(batchIDs))
		if err != nil {
			return err
		}
		portions, err := portionIndex(ctx, s.stores.Portions, portionIDs)
		if err != nil {
			return err
		}

		var moves []shipment
		for _, line := range req.Lines {
			item, err := s.stores.Items.GetItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			sel := domain.Selection{Quantity: line.Quantity, PortionIDs: line.PortionIDs}
			if err := sel.Check(item.TrackingType); err != nil {
				return err
			}

			if sel.ByPortion() {
				for _, id := range line.PortionIDs {
					p := portions[id]
					if err := s.shipPortion(p, item, line, req.SourceBranchID); err != nil {
						return err
					}
					t.Items = append(t.Items, domain.TransferItem{
						ItemID:    item.ID,
						BatchID:   p.BatchID,
						PortionID: ptr(p.ID),
						Quantity:  decimal.NewFromInt(1),
					})
					moves = append(moves, shipment{from: domain.PortionUnused})
				}
				continue
			}

			b := batches[line.BatchID]
			if b.BranchID != req.SourceBranchID {
				return domain.CrossBranchMismatch("batch")
			}
			if b.ItemID != item.ID {
				return domain.CrossItemMismatch("batch")
			}
			before := domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
			after, err := before.Take(line.Quantity)
			if err != nil {
				return err
			}
			b.RemainingQuantity = after.Remaining
			t.Items = append(t.Items, domain.TransferItem{
				ItemID:   item.ID,
				BatchID:  b.ID,
				Quantity: line.Quantity,
			})
			moves = append(moves, shipment{before: before.Remaining, after: after.Remaining})
		}

		for _, id := range uniqueIDs(batchIDs) {
			if err := s.stores.Batches.UpdateBatchQuantities(ctx, batches[id]); err != nil {
				return err
			}
		}
		for _, id := range portionIDs {
			if err := s.stores.Portions.UpdatePortion(ctx, portions[id]); err != nil {
				return err
			}
		}
		if err := s.stores.Transfers.CreateTransfer(ctx, t); err != nil {
			return err
		}

		for i, it := range t.Items {
			d := s.lineDetails(t, &it)
			d.SentQuantity = domain.Dec(it.Quantity)
			if it.IsPortionLine() {
				d.FromStatus = moves[i].from
				d.ToStatus = domain.PortionInTransit
			} else {
				d.QuantityChange = domain.Dec(it.Quantity.Neg())
				d.Before = domain.Dec(moves[i].before)
				d.After = domain.Dec(moves[i].after)
			}
			if _, err := s.entry(ctx, s.lineEntry(a, t, &it, t.SourceBranchID, domain.ActionTransferInitiated), d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", t.ID).
		Str("source_branch_id", t.SourceBranchID).
		Str("destination_branch_id", t.DestinationBranchID).
		Int("lines", len(t.Items)).
		Msg("transfer created")
	s.publish(ctx, messaging.EventTransferCreated, a, t)
	return t, nil
}

func (s *TransferService) shipPortion(p *domain.Portion, item *domain.Item, line TransferLine, sourceBranchID string) error {
	if p.ItemID != item.ID {
		return domain.CrossItemMismatch("portion")
	}
	if line.BatchID != "" && p.BatchID != line.BatchID {
		return domain.CrossItemMismatch("portion")
	}
	if p.BranchID != sourceBranchID {
		return domain.CrossBranchMismatch("portion")
	}
	_, err := p.Transition(domain.TriggerShip)
	return err
}

// LineReception is the destination's verdict on one transfer item.
type LineReception struct {
	TransferItemID   string
	Status           domain.ReceptionStatus
	ReceivedQuantity *decimal.Decimal
	Notes            *string
}

// Receive resolves transfer items at the destination. Lines may be resolved
// over several calls; the transfer completes when none is left pending.
func (s *TransferService) Receive(ctx context.Context, a *actor.Actor, transferID string, receptions []LineReception) (*domain.Transfer, error) {
	if err := checkIDs("transfer", transferID); err != nil {
		return nil, err
	}
	if len(receptions) == 0 {
		return nil, errors.Validation(map[string]string{"lines": "at least one line is required"})
	}
	seen := map[string]struct{}{}
	for _, rec := range receptions {
		if !rec.Status.Terminal() {
			return nil, errors.Validation(map[string]string{"status": "must be RECEIVED, RECEIVED_WITH_ISSUES or REJECTED"})
		}
		if _, dup := seen[rec.TransferItemID]; dup {
			return nil, errors.Validation(map[string]string{"lines": "transfer item " + rec.TransferItemID + " listed twice"})
		}
		seen[rec.TransferItemID] = struct{}{}
	}

	var t *domain.Transfer
	err := s.inTx(ctx, "receive_transfer", a, func(ctx context.Context) error {
		var err error
		t, err = s.stores.Transfers.LockTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != domain.TransferPending {
			return domain.TransferNotPending(t.Status)
		}
		if err := authorize(a, t.DestinationBranchID, "receive_transfer"); err != nil {
			return err
		}

		lines := make(map[string]*domain.TransferItem, len(t.Items))
		for i := range t.Items {
			lines[t.Items[i].ID] = &t.Items[i]
		}
		var batchIDs, portionIDs []string
		for _, rec := range receptions {
			line, ok := lines[rec.TransferItemID]
			if !ok {
				return domain.NotFound("transfer item")
			}
			if line.ReceptionStatus.Terminal() {
				return errors.Conflict(fmt.Sprintf("transfer item %d was already received", line.LineNo))
			}
			if line.IsPortionLine() {
				portionIDs = append(portionIDs, *line.PortionID)
			} else {
				batchIDs = append(batchIDs, line.BatchID)
			}
		}

		batches, err := lockBatches(ctx, s.stores.Batches, uniqueIDs(batchIDs))
		if err != nil {
			return err
		}
		portions, err := portionIndex(ctx, s.stores.Portions, portionIDs)
		if err != nil {
			return err
		}

		ordered := append([]LineReception(nil), receptions...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return lines[ordered[i].TransferItemID].LineNo < lines[ordered[j].TransferItemID].LineNo
		})
		for _, rec := range ordered {
			line := lines[rec.TransferItemID]
			line.ReceptionNotes = rec.Notes
			if line.IsPortionLine() {
				err = s.receivePortion(ctx, a, t, line, rec, portions[*line.PortionID])
			} else {
				err = s.receiveMeasured(ctx, a, t, line, rec, batches[line.BatchID])
			}
			if err != nil {
				return err
			}
			if err := s.stores.Transfers.UpdateTransferItem(ctx, line); err != nil {
				return err
			}
		}

		if len(t.Pending()) > 0 {
			return nil
		}
		t.Status = domain.TransferCompleted
		t.ReceivedBy = a.UserID()
		t.ReceivedAt = ptr(s.now())
		return s.stores.Transfers.UpdateTransferStatus(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", t.ID).
		Str("status", string(t.Status)).
		Int("resolved_lines", len(receptions)).
		Int("pending_lines", len(t.Pending())).
		Msg("transfer lines received")
	if t.Status == domain.TransferCompleted {
		s.publish(ctx, messaging.EventTransferReceived, a, t)
	}
	return t, nil
}

func (s *TransferService) receiveMeasured(ctx context.Context, a *actor.Actor, t *domain.Transfer, line *domain.TransferItem, rec LineReception, src *domain.Batch) error {
	sent := line.Quantity
	d := s.lineDetails(t, line)
	d.SentQuantity = domain.Dec(sent)
	d.ReceptionNotes = deref(rec.Notes)

	if rec.Status == domain.ReceptionRejected {
		before := domain.Measured{Received: src.QuantityReceived, Remaining: src.RemainingQuantity}
		after, err := before.Put(sent)
		if err != nil {
			return err
		}
		src.RemainingQuantity = after.Remaining
		if err := s.stores.Batches.UpdateBatchQuantities(ctx, src); err != nil {
			return err
		}
		line.ReceptionStatus = domain.ReceptionRejected
		line.ReceivedQuantity = decimal.NewNullDecimal(decimal.Zero)

		d.QuantityChange = domain.Dec(sent)
		d.Before = domain.Dec(before.Remaining)
		d.After = domain.Dec(after.Remaining)
		d.ReceptionStatus = line.ReceptionStatus
		_, err = s.entry(ctx, s.lineEntry(a, t, line, t.SourceBranchID, domain.ActionTransferLineRejected), d)
		return err
	}

	received := sent
	if rec.ReceivedQuantity != nil {
		received = *rec.ReceivedQuantity
	}
	if err := domain.CheckNonNegative(received); err != nil {
		return err
	}
	if received.GreaterThan(sent) {
		return domain.InvalidQuantity("received quantity exceeds the quantity sent")
	}
	lost := sent.Sub(received)

	line.ReceptionStatus = rec.Status
	if lost.IsPositive() {
		line.ReceptionStatus = domain.ReceptionReceivedWithIssues
	}
	line.ReceivedQuantity = decimal.NewNullDecimal(received)
	d.ReceivedQuantity = domain.Dec(received)
	d.ReceptionStatus = line.ReceptionStatus

	if received.IsPositive() {
		dest := &domain.Batch{
			ItemID:            line.ItemID,
			BranchID:          t.DestinationBranchID,
			BatchNumber:       fmt.Sprintf("%s-T%s", src.BatchNumber, shortID(line.ID)),
			Label:             src.Label,
			Source:            domain.SourceTransfer,
			SourceTransferID:  ptr(t.ID),
			SourceBatchID:     ptr(src.ID),
			QuantityReceived:  received,
			RemainingQuantity: received,
			UnitCost:          src.UnitCost,
			ReceivedAt:        s.now(),
			ExpirationDate:    src.ExpirationDate,
		}
		if err := s.stores.Batches.CreateBatch(ctx, dest); err != nil {
			return err
		}
		line.DestinationBatchID = ptr(dest.ID)
		d.DestinationBatchID = dest.ID

		landed := *d
		landed.QuantityChange = domain.Dec(dest.RemainingQuantity)
		landed.Before = domain.Dec(decimal.Zero)
		landed.After = domain.Dec(dest.RemainingQuantity)
		e := s.lineEntry(a, t, line, t.DestinationBranchID, domain.ActionTransferReceived)
		e.BatchID = dest.ID
		if _, err := s.entry(ctx, e, &landed); err != nil {
			return err
		}
	}

	if lost.IsPositive() {
		short := *d
		short.LostQuantity = domain.Dec(lost)
		if _, err := s.entry(ctx, s.lineEntry(a, t, line, t.SourceBranchID, domain.ActionTransferShortfall), &short); err != nil {
			return err
		}
	}
	return nil
}

func (s *TransferService) receivePortion(ctx context.Context, a *actor.Actor, t *domain.Transfer, line *domain.TransferItem, rec LineReception, p *domain.Portion) error {
	d := s.lineDetails(t, line)
	d.FromStatus = p.Status
	d.ReceptionNotes = deref(rec.Notes)

	if rec.Status == domain.ReceptionRejected {
		if _, err := p.Transition(domain.TriggerReturn); err != nil {
			return err
		}
		if err := s.stores.Portions.UpdatePortion(ctx, p); err != nil {
			return err
		}
		line.ReceptionStatus = domain.ReceptionRejected
		line.ReceivedQuantity = decimal.NewNullDecimal(decimal.Zero)
		d.ToStatus = p.Status
		d.ReceptionStatus = line.ReceptionStatus
		_, err := s.entry(ctx, s.lineEntry(a, t, line, t.SourceBranchID, domain.ActionTransferLineRejected), d)
		return err
	}

	one := decimal.NewFromInt(1)
	if rec.ReceivedQuantity != nil && !rec.ReceivedQuantity.Equal(one) {
		return domain.InvalidQuantity("a portion is received whole; reject the line if it did not arrive")
	}
	via, err := p.Transition(domain.TriggerReceive)
	if err != nil {
		return err
	}
	p.BranchID = t.DestinationBranchID
	if _, err := p.Transition(domain.TriggerReactivate); err != nil {
		return err
	}
	if err := s.stores.Portions.UpdatePortion(ctx, p); err != nil {
		return err
	}

	line.ReceptionStatus = rec.Status
	line.ReceivedQuantity = decimal.NewNullDecimal(one)
	d.ToStatus = p.Status
	d.Via = []domain.PortionStatus{via}
	d.ReceivedQuantity = domain.Dec(one)
	d.ReceptionStatus = line.ReceptionStatus
	_, err = s.entry(ctx, s.lineEntry(a, t, line, t.DestinationBranchID, domain.ActionTransferReceived), d)
	return err
}

// Cancel withdraws a pending transfer. Only the sending branch may cancel.
func (s *TransferService) Cancel(ctx context.Context, a *actor.Actor, transferID string) (*domain.Transfer, error) {
	return s.unwind(ctx, a, transferID, unwindCancel)
}

// Reject refuses a whole pending shipment. Only the receiving branch may reject,
// and only before any line was received.
func (s *TransferService) Reject(ctx context.Context, a *actor.Actor, transferID string) (*domain.Transfer, error) {
	return s.unwind(ctx, a, transferID, unwindReject)
}

type unwindKind struct {
	op     string
	action domain.LogAction
	status domain.TransferStatus
	event  string
	// branch returns the branch allowed to unwind.
	branch func(t *domain.Transfer) string
}

var (
	unwindCancel = unwindKind{
		op:     "cancel_transfer",
		action: domain.ActionTransferCancelled,
		status: domain.TransferCancelled,
		event:  messaging.EventTransferCancelled,
		branch: func(t *domain.Transfer) string { return t.SourceBranchID },
	}
	unwindReject = unwindKind{
		op:     "reject_transfer",
		action: domain.ActionTransferRejected,
		status: domain.TransferRejected,
		event:  messaging.EventTransferRejected,
		branch: func(t *domain.Transfer) string { return t.DestinationBranchID },
	}
)

// unwind returns every reserved unit to the source and closes the transfer.
func (s *TransferService) unwind(ctx context.Context, a *actor.Actor, transferID string, kind unwindKind) (*domain.Transfer, error) {
	if err := checkIDs("transfer", transferID); err != nil {
		return nil, err
	}

	var t *domain.Transfer
	err := s.inTx(ctx, kind.op, a, func(ctx context.Context) error {
		var err error
		t, err = s.stores.Transfers.LockTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != domain.TransferPending {
			return domain.TransferNotPending(t.Status)
		}
		if err := authorize(a, kind.branch(t), kind.op); err != nil {
			return err
		}
		if len(t.Pending()) != len(t.Items) {
			return errors.Conflict("transfer has received lines and can no longer be unwound")
		}

		var batchIDs, portionIDs []string
		for _, it := range t.Items {
			if it.IsPortionLine() {
				portionIDs = append(portionIDs, *it.PortionID)
			} else {
				batchIDs = append(batchIDs, it.BatchID)
			}
		}
		batches, err := lockBatches(ctx, s.stores.Batches, uniqueIDs(batchIDs))
		if err != nil {
			return err
		}
		portions, err := portionIndex(ctx, s.stores.Portions, portionIDs)
		if err != nil {
			return err
		}

		for i := range t.Items {
			it := &t.Items[i]
			d := s.lineDetails(t, it)
			d.SentQuantity = domain.Dec(it.Quantity)

			if it.IsPortionLine() {
				p := portions[*it.PortionID]
				d.FromStatus = p.Status
				if _, err := p.Transition(domain.TriggerReturn); err != nil {
					return err
				}
				if err := s.stores.Portions.UpdatePortion(ctx, p); err != nil {
					return err
				}
				d.ToStatus = p.Status
			} else {
				b := batches[it.BatchID]
				before := domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
				after, err := before.Put(it.Quantity)
				if err != nil {
					return err
				}
				b.RemainingQuantity = after.Remaining
				if err := s.stores.Batches.UpdateBatchQuantities(ctx, b); err != nil {
					return err
				}
				d.QuantityChange = domain.Dec(it.Quantity)
				d.Before = domain.Dec(before.Remaining)
				d.After = domain.Dec(after.Remaining)
			}

			if kind.status == domain.TransferRejected {
				it.ReceptionStatus = domain.ReceptionRejected
				if err := s.stores.Transfers.UpdateTransferItem(ctx, it); err != nil {
					return err
				}
				d.ReceptionStatus = it.ReceptionStatus
			}
			if _, err := s.entry(ctx, s.lineEntry(a, t, it, t.SourceBranchID, kind.action), d); err != nil {
				return err
			}
		}

		t.Status = kind.status
		if kind.status == domain.TransferRejected {
			t.ReceivedBy = a.UserID()
			t.ReceivedAt = ptr(s.now())
		}
		return s.stores.Transfers.UpdateTransferStatus(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", t.ID).
		Str("status", string(t.Status)).
		Int("lines", len(t.Items)).
		Msg("transfer unwound")
	s.publish(ctx, kind.event, a, t)
	return t, nil
}

// Get returns a transfer with its lines
func (s *TransferService) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	if err := checkIDs("transfer", id); err != nil {
		return nil, err
	}
	return s.stores.Transfers.GetTransfer(ctx, id)
}

// List lists transfers touching a branch
func (s *TransferService) List(ctx context.Context, f domain.TransferFilter) ([]domain.Transfer, int, error) {
	return s.stores.Transfers.ListTransfers(ctx, f)
}

func (s *TransferService) lineDetails(t *domain.Transfer, it *domain.TransferItem) *domain.Details {
	d := domain.NewDetails()
	d.TransferItemID = it.ID
	d.SourceBranchID = t.SourceBranchID
	d.DestinationBranchID = t.DestinationBranchID
	return d
}

func (s *TransferService) lineEntry(a *actor.Actor, t *domain.Transfer, it *domain.TransferItem, branchID string, action domain.LogAction) domain.LedgerEntry {
	return domain.LedgerEntry{
		BatchID:    it.BatchID,
		PortionID:  it.PortionID,
		ItemID:     it.ItemID,
		BranchID:   branchID,
		UserID:     a.UserID(),
		TransferID: ptr(t.ID),
		Action:     action,
	}
}

func (s *TransferService) publish(ctx context.Context, eventType string, a *actor.Actor, t *domain.Transfer) {
	s.publisher.PublishTransfer(ctx, eventType, messaging.TransferEvent{
		TransferID:          t.ID,
		SourceBranchID:      t.SourceBranchID,
		DestinationBranchID: t.DestinationBranchID,
		Status:              string(t.Status),
		Lines:               len(t.Items),
		PerformedBy:         a.UserID(),
	})
}

// portionIndex locks portions and indexes them by id.
func portionIndex(ctx context.Context, store PortionStore, ids []string) (map[string]*domain.Portion, error) {
	out := make(map[string]*domain.Portion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := lockPortions(ctx, store, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
