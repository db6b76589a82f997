// Package memstore is an in-memory implementation of the inventory stores.
//
// One mutex guards all data. WithTx holds it for the whole callback and
// restores a snapshot when the callback fails, so transactions are
// serialised and atomic. It backs the service tests and the "memory"
// store driver for local development.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
)

type branchKey struct {
	itemID   string
	branchID string
}

type state struct {
	items         map[string]domain.Item
	branchStock   map[branchKey]domain.BranchStock
	batches       map[string]domain.Batch
	portions      map[string]domain.Portion
	ledger        []domain.LedgerEntry
	transfers     map[string]domain.Transfer
	transferItems map[string][]domain.TransferItem
	users         map[string]actor.CachedUser
}

func newState() *state {
	return &state{
		items:         map[string]domain.Item{},
		branchStock:   map[branchKey]domain.BranchStock{},
		batches:       map[string]domain.Batch{},
		portions:      map[string]domain.Portion{},
		transfers:     map[string]domain.Transfer{},
		transferItems: map[string][]domain.TransferItem{},
		users:         map[string]actor.CachedUser{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.branchStock {
		c.branchStock[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.portions {
		c.portions[k] = v
	}
	c.ledger = append([]domain.LedgerEntry(nil), s.ledger...)
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.transferItems {
		c.transferItems[k] = append([]domain.TransferItem(nil), v...)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store implements every inventory store contract in memory. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithTx runs fn with exclusive access to the store. Any error discards
// every change fn made. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// do runs fn under the mutex unless ctx already holds it.
func (s *Store) do(ctx context.Context, fn func(d *state) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func newID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// Items

func (s *Store) CreateItem(ctx context.Context, item *domain.Item) error {
	return s.do(ctx, func(d *state) error {
		for _, existing := range d.items {
			if existing.Code == item.Code {
				return errors.Conflict("an item with this code already exists")
			}
		}
		item.ID = newID(item.ID)
		item.CreatedAt, item.UpdatedAt = s.now(), s.now()
		d.items[item.ID] = *item
		return nil
	})
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var out domain.Item
	err := s.do(ctx, func(d *state) error {
		item, ok := d.items[id]
		if !ok {
			return domain.NotFound("item")
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LockItem(ctx context.Context, id string) (*domain.Item, error) {
	return s.GetItem(ctx, id)
}

func (s *Store) ShareItem(ctx context.Context, id string) (*domain.Item, error) {
	return s.GetItem(ctx, id)
}

func (s *Store) UpdateItem(ctx context.Context, item *domain.Item) error {
	return s.do(ctx, func(d *state) error {
		current, ok := d.items[item.ID]
		if !ok {
			return domain.NotFound("item")
		}
		for id, existing := range d.items {
			if id != item.ID && existing.Code == item.Code {
				return errors.Conflict("an item with this code already exists")
			}
		}
		item.CreatedAt = current.CreatedAt
		item.UpdatedAt = s.now()
		d.items[item.ID] = *item
		return nil
	})
}

func (s *Store) ListItems(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int, error) {
	var all []domain.Item
	_ = s.do(ctx, func(d *state) error {
		needle := strings.ToLower(strings.TrimSpace(f.Search))
		for _, item := range d.items {
			if needle != "" && !contains(item.Name, needle) && !contains(item.Code, needle) {
				continue
			}
			if f.Category != "" && (item.Category == nil || *item.Category != f.Category) {
				continue
			}
			if f.TrackingType != "" && item.TrackingType != f.TrackingType {
				continue
			}
			all = append(all, item)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})
	return domain.Window(all, f.Page), len(all), nil
}

func (s *Store) UpsertBranchStock(ctx context.Context, bs *domain.BranchStock) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.items[bs.ItemID]; !ok {
			return errors.BadRequest("referenced record does not exist")
		}
		bs.UpdatedAt = s.now()
		d.branchStock[branchKey{bs.ItemID, bs.BranchID}] = *bs
		return nil
	})
}

func (s *Store) GetBranchStock(ctx context.Context, itemID, branchID string) (*domain.BranchStock, error) {
	out := domain.BranchStock{ItemID: itemID, BranchID: branchID, LowStockThreshold: decimal.Zero}
	_ = s.do(ctx, func(d *state) error {
		if bs, ok := d.branchStock[branchKey{itemID, branchID}]; ok {
			out = bs
		}
		return nil
	})
	return &out, nil
}

func (s *Store) ListBranchStock(ctx context.Context, branchID string) ([]domain.BranchStock, error) {
	out := []domain.BranchStock{}
	_ = s.do(ctx, func(d *state) error {
		for k, bs := range d.branchStock {
			if k.branchID == branchID {
				out = append(out, bs)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (s *Store) StockedBranches(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	out := []string{}
	_ = s.do(ctx, func(d *state) error {
		for k, bs := range d.branchStock {
			if _, ok := seen[k.branchID]; bs.IsStocked && !ok {
				seen[k.branchID] = struct{}{}
				out = append(out, k.branchID)
			}
		}
		return nil
	})
	sort.Strings(out)
	return out, nil
}

// Batches

func (s *Store) CreateBatch(ctx context.Context, b *domain.Batch) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.items[b.ItemID]; !ok {
			return errors.BadRequest("referenced record does not exist")
		}
		for _, existing := range d.batches {
			if existing.BranchID == b.BranchID && existing.ItemID == b.ItemID && existing.BatchNumber == b.BatchNumber {
				return errors.Conflict("a batch with this number already exists for the item and branch")
			}
		}
		if err := checkRemaining(b); err != nil {
			return err
		}
		b.ID = newID(b.ID)
		if b.ReceivedAt.IsZero() {
			b.ReceivedAt = s.now()
		}
		b.CreatedAt, b.UpdatedAt = s.now(), s.now()
		d.batches[b.ID] = *b
		return nil
	})
}

func checkRemaining(b *domain.Batch) error {
	m := domain.Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
	if !m.Valid() {
		return errors.Validation(map[string]string{
			"remaining_quantity": "must stay between 0 and quantity_received",
		})
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var out domain.Batch
	err := s.do(ctx, func(d *state) error {
		b, ok := d.batches[id]
		if !ok {
			return domain.NotFound("batch")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LockBatch(ctx context.Context, id string) (*domain.Batch, error) {
	return s.GetBatch(ctx, id)
}

func (s *Store) LockBatches(ctx context.Context, ids []string) ([]domain.Batch, error) {
	out := []domain.Batch{}
	_ = s.do(ctx, func(d *state) error {
		for _, id := range uniq(ids) {
			if b, ok := d.batches[id]; ok {
				out = append(out, b)
			}
		}
		return nil
	})
	sortFIFO(out)
	return out, nil
}

func (s *Store) LockAvailableBatches(ctx context.Context, itemID, branchID string) ([]domain.Batch, error) {
	out := []domain.Batch{}
	_ = s.do(ctx, func(d *state) error {
		for _, b := range d.batches {
			if b.ItemID == itemID && b.BranchID == branchID && b.RemainingQuantity.IsPositive() {
				out = append(out, b)
			}
		}
		return nil
	})
	sortFIFO(out)
	return out, nil
}

func (s *Store) UpdateBatchQuantities(ctx context.Context, b *domain.Batch) error {
	return s.do(ctx, func(d *state) error {
		current, ok := d.batches[b.ID]
		if !ok {
			return domain.NotFound("batch")
		}
		if err := checkRemaining(b); err != nil {
			return err
		}
		current.QuantityReceived = b.QuantityReceived
		current.RemainingQuantity = b.RemainingQuantity
		current.UpdatedAt = s.now()
		b.UpdatedAt = current.UpdatedAt
		d.batches[b.ID] = current
		return nil
	})
}

func (s *Store) UpdateBatchMetadata(ctx context.Context, b *domain.Batch) error {
	return s.do(ctx, func(d *state) error {
		current, ok := d.batches[b.ID]
		if !ok {
			return domain.NotFound("batch")
		}
		current.Label = b.Label
		current.Source = b.Source
		current.UnitCost = b.UnitCost
		current.ExpirationDate = b.ExpirationDate
		current.UpdatedAt = s.now()
		b.UpdatedAt = current.UpdatedAt
		d.batches[b.ID] = current
		return nil
	})
}

func (s *Store) ListBatches(ctx context.Context, f domain.BatchFilter) ([]domain.Batch, int, error) {
	var all []domain.Batch
	_ = s.do(ctx, func(d *state) error {
		for _, b := range d.batches {
			if f.ItemID != "" && b.ItemID != f.ItemID {
				continue
			}
			if f.BranchID != "" && b.BranchID != f.BranchID {
				continue
			}
			if f.OnlyAvailable && !d.available(b) {
				continue
			}
			if f.WithExpiry && b.ExpirationDate == nil {
				continue
			}
			all = append(all, b)
		}
		return nil
	})
	sortFIFO(all)
	return domain.Window(all, f.Page), len(all), nil
}

// available reports on-hand stock at the batch's own branch: unused
// portions for portion items, remaining quantity otherwise.
func (d *state) available(b domain.Batch) bool {
	if item, ok := d.items[b.ItemID]; !ok || item.TrackingType != domain.TrackingByPortion {
		return b.RemainingQuantity.IsPositive()
	}
	for _, p := range d.portions {
		if p.BatchID == b.ID && p.BranchID == b.BranchID && p.Status == domain.PortionUnused {
			return true
		}
	}
	return false
}

func (s *Store) CountBatches(ctx context.Context, itemID string) (int, error) {
	n := 0
	_ = s.do(ctx, func(d *state) error {
		for _, b := range d.batches {
			if b.ItemID == itemID {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (s *Store) RemainingTotals(ctx context.Context, branchID string) (map[string]decimal.Decimal, error) {
	totals := map[string]decimal.Decimal{}
	_ = s.do(ctx, func(d *state) error {
		for _, b := range d.batches {
			if b.BranchID != branchID || d.items[b.ItemID].TrackingType != domain.TrackingByMeasure {
				continue
			}
			totals[b.ItemID] = totals[b.ItemID].Add(b.RemainingQuantity)
		}
		return nil
	})
	return totals, nil
}

// Portions

func (s *Store) CreatePortions(ctx context.Context, portions []domain.Portion) error {
	return s.do(ctx, func(d *state) error {
		labels := make(map[string]struct{}, len(d.portions))
		for _, p := range d.portions {
			labels[p.Label] = struct{}{}
		}
		for i := range portions {
			p := &portions[i]
			if _, dup := labels[p.Label]; dup {
				return errors.Conflict("a portion with this label already exists")
			}
			if _, ok := d.batches[p.BatchID]; !ok {
				return errors.BadRequest("referenced record does not exist")
			}
			labels[p.Label] = struct{}{}
			p.ID = newID(p.ID)
			p.CreatedAt, p.UpdatedAt = s.now(), s.now()
		}
		for _, p := range portions {
			d.portions[p.ID] = p
		}
		return nil
	})
}

func (s *Store) GetPortion(ctx context.Context, id string) (*domain.Portion, error) {
	var out domain.Portion
	err := s.do(ctx, func(d *state) error {
		p, ok := d.portions[id]
		if !ok {
			return domain.NotFound("portion")
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LockPortions(ctx context.Context, ids []string) ([]domain.Portion, error) {
	out := []domain.Portion{}
	_ = s.do(ctx, func(d *state) error {
		for _, id := range uniq(ids) {
			if p, ok := d.portions[id]; ok {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdatePortion(ctx context.Context, p *domain.Portion) error {
	return s.do(ctx, func(d *state) error {
		current, ok := d.portions[p.ID]
		if !ok {
			return domain.NotFound("portion")
		}
		if !p.Status.Valid() {
			return errors.Validation(map[string]string{"status": "is not a known status"})
		}
		current.Status = p.Status
		current.BranchID = p.BranchID
		current.UpdatedAt = s.now()
		p.UpdatedAt = current.UpdatedAt
		d.portions[p.ID] = current
		return nil
	})
}

func (s *Store) ListPortions(ctx context.Context, batchID string) ([]domain.Portion, error) {
	out := []domain.Portion{}
	_ = s.do(ctx, func(d *state) error {
		for _, p := range d.portions {
			if p.BatchID == batchID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Store) UnusedCounts(ctx context.Context, branchID string) (map[string]int, error) {
	counts := map[string]int{}
	_ = s.do(ctx, func(d *state) error {
		for _, p := range d.portions {
			if p.BranchID == branchID && p.Status == domain.PortionUnused {
				counts[p.ItemID]++
			}
		}
		return nil
	})
	return counts, nil
}

func (s *Store) UnusedByBatch(ctx context.Context, branchID string) (map[string]int, error) {
	counts := map[string]int{}
	_ = s.do(ctx, func(d *state) error {
		for _, p := range d.portions {
			if p.BranchID == branchID && p.Status == domain.PortionUnused {
				counts[p.BatchID]++
			}
		}
		return nil
	})
	return counts, nil
}

// Ledger

func (s *Store) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.batches[e.BatchID]; !ok {
			return errors.BadRequest("referenced record does not exist")
		}
		e.ID = newID(e.ID)
		if len(e.Details) == 0 {
			e.Details = []byte("{}")
		}
		e.CreatedAt = s.now()
		stored := *e
		stored.Details = append([]byte(nil), e.Details...)
		d.ledger = append(d.ledger, stored)
		return nil
	})
}

func (s *Store) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var out domain.LedgerEntry
	err := s.do(ctx, func(d *state) error {
		for _, e := range d.ledger {
			if e.ID == id {
				out = e
				return nil
			}
		}
		return domain.NotFound("ledger entry")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LastAdjustment(ctx context.Context, portionID string) (*domain.LedgerEntry, error) {
	var out domain.LedgerEntry
	err := s.do(ctx, func(d *state) error {
		for i := len(d.ledger) - 1; i >= 0; i-- {
			e := d.ledger[i]
			if e.PortionID == nil || *e.PortionID != portionID {
				continue
			}
			if _, ok := e.Action.Adjustment(); ok {
				out = e
				return nil
			}
		}
		return domain.NotFound("adjustment entry")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaleDeducted needs no lock of its own: WithTx already serialises callers.
func (s *Store) SaleDeducted(ctx context.Context, saleID, itemID, branchID string) (bool, error) {
	found := false
	_ = s.do(ctx, func(d *state) error {
		for _, e := range d.ledger {
			if e.Action == domain.ActionDeductedForSale && e.SaleID != nil && *e.SaleID == saleID &&
				e.ItemID == itemID && e.BranchID == branchID {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, nil
}

func (s *Store) BatchEntries(ctx context.Context, batchID string, actions ...domain.LogAction) ([]domain.LedgerEntry, error) {
	out := []domain.LedgerEntry{}
	_ = s.do(ctx, func(d *state) error {
		for _, e := range d.ledger {
			if e.BatchID == batchID && hasAction(actions, e.Action) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, nil
}

func (s *Store) SearchEntries(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerRecord, int, error) {
	var all []domain.LedgerRecord
	_ = s.do(ctx, func(d *state) error {
		needle := strings.ToLower(strings.TrimSpace(f.Search))
		for i := len(d.ledger) - 1; i >= 0; i-- {
			e := d.ledger[i]
			if !matchEntry(e, f) {
				continue
			}
			rec := d.record(e)
			if needle != "" && !rec.matches(needle) {
				continue
			}
			all = append(all, rec.LedgerRecord)
		}
		return nil
	})
	return domain.Window(all, f.Page), len(all), nil
}

type record struct {
	domain.LedgerRecord
}

func (d *state) record(e domain.LedgerEntry) record {
	item := d.items[e.ItemID]
	rec := domain.LedgerRecord{
		LedgerEntry: e,
		ItemName:    item.Name,
		ItemCode:    item.Code,
		BatchNumber: d.batches[e.BatchID].BatchNumber,
	}
	if e.PortionID != nil {
		if p, ok := d.portions[*e.PortionID]; ok {
			label := p.Label
			rec.PortionLabel = &label
		}
	}
	if e.UserID != nil {
		if u, ok := d.users[*e.UserID]; ok {
			name := u.Name
			rec.UserName = &name
		}
	}
	return record{rec}
}

func (r record) matches(needle string) bool {
	if contains(r.ItemName, needle) || contains(r.ItemCode, needle) || contains(r.BatchNumber, needle) {
		return true
	}
	if r.PortionLabel != nil && contains(*r.PortionLabel, needle) {
		return true
	}
	return r.UserName != nil && contains(*r.UserName, needle)
}

func matchEntry(e domain.LedgerEntry, f domain.LedgerFilter) bool {
	switch {
	case f.BatchID != "" && e.BatchID != f.BatchID:
		return false
	case f.PortionID != "" && (e.PortionID == nil || *e.PortionID != f.PortionID):
		return false
	case f.ItemID != "" && e.ItemID != f.ItemID:
		return false
	case f.BranchID != "" && e.BranchID != f.BranchID:
		return false
	case f.SaleID != "" && (e.SaleID == nil || *e.SaleID != f.SaleID):
		return false
	case len(f.Actions) > 0 && !hasAction(f.Actions, e.Action):
		return false
	case f.From != nil && e.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !e.CreatedAt.Before(*f.To):
		return false
	}
	return true
}

// Transfers

func (s *Store) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	return s.do(ctx, func(d *state) error {
		if t.SourceBranchID == t.DestinationBranchID {
			return errors.Validation(map[string]string{
				"destination_branch_id": "must differ from the source branch",
			})
		}
		t.ID = newID(t.ID)
		if t.SentAt.IsZero() {
			t.SentAt = s.now()
		}
		t.CreatedAt, t.UpdatedAt = s.now(), s.now()
		for i := range t.Items {
			it := &t.Items[i]
			it.ID = newID(it.ID)
			it.TransferID = t.ID
			if it.LineNo == 0 {
				it.LineNo = i + 1
			}
			if it.ReceptionStatus == "" {
				it.ReceptionStatus = domain.ReceptionPending
			}
		}
		stored := *t
		stored.Items = nil
		d.transfers[t.ID] = stored
		d.transferItems[t.ID] = append([]domain.TransferItem(nil), t.Items...)
		return nil
	})
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	var out domain.Transfer
	err := s.do(ctx, func(d *state) error {
		t, ok := d.transfers[id]
		if !ok {
			return domain.NotFound("transfer")
		}
		out = t
		out.Items = append([]domain.TransferItem{}, d.transferItems[id]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LockTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return s.GetTransfer(ctx, id)
}

func (s *Store) UpdateTransferStatus(ctx context.Context, t *domain.Transfer) error {
	return s.do(ctx, func(d *state) error {
		current, ok := d.transfers[t.ID]
		if !ok {
			return domain.NotFound("transfer")
		}
		current.Status = t.Status
		current.ReceivedBy = t.ReceivedBy
		current.ReceivedAt = t.ReceivedAt
		current.UpdatedAt = s.now()
		t.UpdatedAt = current.UpdatedAt
		d.transfers[t.ID] = current
		return nil
	})
}

func (s *Store) UpdateTransferItem(ctx context.Context, it *domain.TransferItem) error {
	return s.do(ctx, func(d *state) error {
		lines := d.transferItems[it.TransferID]
		for i := range lines {
			if lines[i].ID != it.ID {
				continue
			}
			lines[i].ReceptionStatus = it.ReceptionStatus
			lines[i].ReceivedQuantity = it.ReceivedQuantity
			lines[i].ReceptionNotes = it.ReceptionNotes
			lines[i].DestinationBatchID = it.DestinationBatchID
			return nil
		}
		return domain.NotFound("transfer item")
	})
}

func (s *Store) ListTransfers(ctx context.Context, f domain.TransferFilter) ([]domain.Transfer, int, error) {
	var all []domain.Transfer
	_ = s.do(ctx, func(d *state) error {
		for _, t := range d.transfers {
			if f.BranchID != "" && t.SourceBranchID != f.BranchID && t.DestinationBranchID != f.BranchID {
				continue
			}
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			all = append(all, t)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SentAt.Equal(all[j].SentAt) {
			return all[i].SentAt.After(all[j].SentAt)
		}
		return all[i].ID > all[j].ID
	})
	return domain.Window(all, f.Page), len(all), nil
}

// Users

func (s *Store) UpsertUser(ctx context.Context, u *actor.CachedUser) error {
	return s.do(ctx, func(d *state) error {
		d.users[u.UserID] = *u
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, userID string) (*actor.CachedUser, error) {
	var out actor.CachedUser
	err := s.do(ctx, func(d *state) error {
		u, ok := d.users[userID]
		if !ok {
			return domain.NotFound("user")
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.do(ctx, func(d *state) error {
		delete(d.users, userID)
		return nil
	})
}

func sortFIFO(batches []domain.Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].ReceivedAt.Equal(batches[j].ReceivedAt) {
			return batches[i].ReceivedAt.Before(batches[j].ReceivedAt)
		}
		return batches[i].ID < batches[j].ID
	})
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func hasAction(actions []domain.LogAction, a domain.LogAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func contains(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}
