package service

import (
	"context"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
)

// LedgerService is the read side of the ledger. Entries are only ever
// written by the engine and transfer services.
type LedgerService struct {
	core
}

// NewLedgerService creates a new ledger service
func NewLedgerService(stores Stores, publisher *events.InventoryEventPublisher, log *logger.Logger) *LedgerService {
	return &LedgerService{core: newCore(stores, publisher, log, "ledger")}
}

// GetEntry returns one entry
func (s *LedgerService) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	if err := checkIDs("ledger entry", id); err != nil {
		return nil, err
	}
	return s.stores.Ledger.GetEntry(ctx, id)
}

// Search lists entries newest first.
func (s *LedgerService) Search(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerRecord, int, error) {
	for _, a := range f.Actions {
		if !a.Valid() {
			return nil, 0, errors.Validation(map[string]string{"action": "unknown action " + string(a)})
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, errors.Validation(map[string]string{"to": "must not be before from"})
	}
	return s.stores.Ledger.SearchEntries(ctx, f)
}
