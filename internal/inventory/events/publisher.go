package events

import (
	"context"

	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

// Source is stamped on every event this service emits.
const Source = "inventory-service"

// publisher is satisfied by *messaging.Publisher and test doubles.
type publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes committed stock movements to the
// inventory.events exchange. A nil publisher discards events, so services
// run unchanged without a broker.
type InventoryEventPublisher struct {
	publisher publisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher declares the exchange and returns a publisher bound to it.
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	p, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, Source, log)
	if err != nil {
		return nil, err
	}
	return New(p, log), nil
}

// New wraps an existing publisher.
func New(p publisher, log *logger.Logger) *InventoryEventPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &InventoryEventPublisher{publisher: p, logger: log.WithComponent("events")}
}

// publish never fails the caller: the stock change has already committed.
func (p *InventoryEventPublisher) publish(ctx context.Context, eventType, key string, data interface{}) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("entity_id", key).
			Msg("failed to publish event")
	}
}

// PublishStockDeducted publishes inventory.stock.deducted
func (p *InventoryEventPublisher) PublishStockDeducted(ctx context.Context, e messaging.StockDeductedEvent) {
	p.publish(ctx, messaging.EventStockDeducted, e.ItemID, e)
}

// PublishStockAdjusted publishes inventory.stock.adjusted
func (p *InventoryEventPublisher) PublishStockAdjusted(ctx context.Context, e messaging.StockAdjustedEvent) {
	p.publish(ctx, messaging.EventStockAdjusted, e.BatchID, e)
}

// PublishStockRestored publishes inventory.stock.restored
func (p *InventoryEventPublisher) PublishStockRestored(ctx context.Context, e messaging.StockRestoredEvent) {
	p.publish(ctx, messaging.EventStockRestored, e.BatchID, e)
}

// PublishStockLow publishes inventory.stock.low
func (p *InventoryEventPublisher) PublishStockLow(ctx context.Context, e messaging.StockLowEvent) {
	p.publish(ctx, messaging.EventStockLow, e.ItemID, e)
}

// PublishBatchReceived publishes inventory.batch.received
func (p *InventoryEventPublisher) PublishBatchReceived(ctx context.Context, e messaging.BatchReceivedEvent) {
	p.publish(ctx, messaging.EventBatchReceived, e.BatchID, e)
}

// PublishBatchUpdated publishes inventory.batch.updated
func (p *InventoryEventPublisher) PublishBatchUpdated(ctx context.Context, e messaging.BatchUpdatedEvent) {
	p.publish(ctx, messaging.EventBatchUpdated, e.BatchID, e)
}

// PublishBatchCorrected publishes inventory.batch.corrected
func (p *InventoryEventPublisher) PublishBatchCorrected(ctx context.Context, e messaging.BatchCorrectedEvent) {
	p.publish(ctx, messaging.EventBatchCorrected, e.BatchID, e)
}

// PublishTransfer publishes one of the inventory.transfer.* events.
func (p *InventoryEventPublisher) PublishTransfer(ctx context.Context, eventType string, e messaging.TransferEvent) {
	p.publish(ctx, eventType, e.TransferID, e)
}
