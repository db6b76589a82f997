package consumers

import (
	"context"
	"fmt"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

type stockDeductor interface {
	DeductForSale(ctx context.Context, a *actor.Actor, req service.DeductRequest) (*service.StockChange, error)
}

// SaleEventHandler turns completed sales into stock deductions
type SaleEventHandler struct {
	engine stockDeductor
	logger *logger.Logger
}

// NewSaleEventHandler creates a new sale event handler
func NewSaleEventHandler(engine stockDeductor, log *logger.Logger) *SaleEventHandler {
	return &SaleEventHandler{engine: engine, logger: log.WithComponent("sale_consumer")}
}

// HandleSaleCompleted deducts every item in its own transaction. The engine
// refuses items the ledger already holds for this sale, so a redelivered
// message only deducts what the previous attempt did not commit. A rejected
// item is logged and the rest of the sale still goes through.
func (h *SaleEventHandler) HandleSaleCompleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.SaleCompletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode sale: %w", err))
	}
	if data.SaleID == "" || data.BranchID == "" {
		return messaging.Permanent(fmt.Errorf("sale event %s is missing sale_id or branch_id", event.ID))
	}

	a := saleActor(data)
	lines := mergeLines(data.Lines)
	var rejected int
	for _, line := range lines {
		_, err := h.engine.DeductForSale(ctx, a, service.DeductRequest{
			ItemID:   line.ItemID,
			BranchID: data.BranchID,
			SaleID:   data.SaleID,
			Selection: domain.Selection{
				Quantity:   line.Quantity,
				PortionIDs: line.PortionIDs,
			},
		})
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSaleAlreadyDeducted):
			h.logger.Debug().
				Str("sale_id", data.SaleID).
				Str("item_id", line.ItemID).
				Msg("sale line already deducted")
		case errors.IsBusiness(err):
			rejected++
			h.logger.Warn().
				Err(err).
				Str("code", errors.Code(err)).
				Str("sale_id", data.SaleID).
				Str("branch_id", data.BranchID).
				Str("item_id", line.ItemID).
				Msg("sale line rejected")
		default:
			return err
		}
	}

	h.logger.Info().
		Str("sale_id", data.SaleID).
		Str("branch_id", data.BranchID).
		Int("lines", len(lines)).
		Int("rejected", rejected).
		Msg("sale processed")
	return nil
}

// mergeLines folds repeated items into one line, keeping first-seen order.
func mergeLines(lines []messaging.SaleLine) []messaging.SaleLine {
	index := make(map[string]int, len(lines))
	out := make([]messaging.SaleLine, 0, len(lines))
	for _, l := range lines {
		i, ok := index[l.ItemID]
		if !ok {
			index[l.ItemID] = len(out)
			out = append(out, messaging.SaleLine{
				ItemID:     l.ItemID,
				Quantity:   l.Quantity,
				PortionIDs: append([]string(nil), l.PortionIDs...),
			})
			continue
		}
		out[i].Quantity = out[i].Quantity.Add(l.Quantity)
		out[i].PortionIDs = append(out[i].PortionIDs, l.PortionIDs...)
	}
	return out
}

// saleActor attributes the deduction to the cashier when the point of sale
// names one, and to the service otherwise.
func saleActor(sale messaging.SaleCompletedEvent) *actor.Actor {
	if sale.UserID == nil || *sale.UserID == "" {
		return actor.SystemActor(sale.BranchID)
	}
	return &actor.Actor{ID: *sale.UserID, BranchID: sale.BranchID}
}

// SaleEventConsumer binds the handler to the sales exchange
type SaleEventConsumer struct {
	consumer *messaging.Consumer
}

// NewSaleEventConsumer creates a new sale event consumer
func NewSaleEventConsumer(rmq *messaging.RabbitMQ, queue string, handler *SaleEventHandler, log *logger.Logger) (*SaleEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, queue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeSalesEvents, messaging.EventSaleCompleted); err != nil {
		return nil, err
	}
	consumer.RegisterHandler(messaging.EventSaleCompleted, handler.HandleSaleCompleted)

	return &SaleEventConsumer{consumer: consumer}, nil
}

// Start starts consuming messages
func (c *SaleEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
