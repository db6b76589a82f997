package service

import (
	"context"
	"fmt"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

// StockScanner periodically sweeps every branch that stocks at least one item,
// publishing inventory.stock.low for items at or below threshold and logging
// batches that are expired or about to expire.
type StockScanner struct {
	core
	query    *StockQuery
	interval time.Duration
	cancel   context.CancelFunc
}

// ScanResult summarises one branch sweep.
type ScanResult struct {
	BranchID   string
	LowStock   int
	OutOfStock int
	Expiring   int
	Expired    int
}

// NewStockScanner creates a new stock scanner
func NewStockScanner(stores Stores, publisher *events.InventoryEventPublisher, interval time.Duration, log *logger.Logger) *StockScanner {
	s := &StockScanner{
		core:     newCore(stores, publisher, log, "stock_scanner"),
		interval: interval,
	}
	s.query = &StockQuery{core: s.core}
	return s
}

// Start runs a sweep immediately and then on every tick, until ctx is
// cancelled or Stop is called.
func (s *StockScanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("stock scanner started")

		s.runScanCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("stock scanner stopped")
				return
			case <-ticker.C:
				s.runScanCycle(ctx)
			}
		}
	}()
}

// Stop stops the scanner goroutine
func (s *StockScanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *StockScanner) runScanCycle(ctx context.Context) {
	start := time.Now()
	results, err := s.ScanAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("stock scan cycle failed")
	}
	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("branch_count", len(results)).
		Msg("stock scan cycle completed")
}

// ScanAll sweeps every stocked branch. A failing branch is logged and skipped;
// the last error is returned.
func (s *StockScanner) ScanAll(ctx context.Context) ([]ScanResult, error) {
	branches, err := s.stores.Items.StockedBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stocked branches: %w", err)
	}

	var lastErr error
	results := make([]ScanResult, 0, len(branches))
	for _, branchID := range branches {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.ScanBranch(ctx, branchID)
		if err != nil {
			s.logger.Error().Err(err).Str("branch_id", branchID).Msg("stock scan failed for branch")
			lastErr = err
			continue
		}
		results = append(results, res)
	}
	return results, lastErr
}

// ScanBranch sweeps one branch.
func (s *StockScanner) ScanBranch(ctx context.Context, branchID string) (ScanResult, error) {
	res := ScanResult{BranchID: branchID}

	levels, err := s.query.StockLevels(ctx, branchID)
	if err != nil {
		return res, fmt.Errorf("stock levels: %w", err)
	}
	for _, lvl := range levels {
		switch lvl.Status {
		case domain.StockLow:
			res.LowStock++
		case domain.StockOutOfStock:
			res.OutOfStock++
		default:
			continue
		}
		s.publisher.PublishStockLow(ctx, messaging.StockLowEvent{
			ItemID:    lvl.ItemID,
			BranchID:  branchID,
			Quantity:  lvl.OnHand,
			Threshold: lvl.LowStockThreshold,
			Status:    string(lvl.Status),
		})
	}

	expiring, err := s.query.ExpiringBatches(ctx, branchID)
	if err != nil {
		return res, fmt.Errorf("expiring batches: %w", err)
	}
	for _, b := range expiring {
		if b.Status == domain.ExpiryExpired {
			res.Expired++
		} else {
			res.Expiring++
		}
		s.logger.Warn().
			Str("branch_id", branchID).
			Str("batch_id", b.ID).
			Str("item_id", b.ItemID).
			Str("expiry_status", string(b.Status)).
			Int("days_left", b.DaysLeft).
			Str("on_hand", b.OnHand.String()).
			Msg("batch expiring")
	}

	if res.LowStock+res.OutOfStock+res.Expiring+res.Expired > 0 {
		s.logger.Info().
			Str("branch_id", branchID).
			Int("low_stock", res.LowStock).
			Int("out_of_stock", res.OutOfStock).
			Int("expiring", res.Expiring).
			Int("expired", res.Expired).
			Msg("branch needs attention")
	}
	return res, nil
}
