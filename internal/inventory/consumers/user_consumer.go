package consumers

import (
	"context"
	"fmt"

	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

type userCache interface {
	UpsertUser(ctx context.Context, u *actor.CachedUser) error
	DeleteUser(ctx context.Context, userID string) error
}

// UserEventHandler keeps the display names ledger search matches against
type UserEventHandler struct {
	users  userCache
	logger *logger.Logger
}

// NewUserEventHandler creates a new user event handler
func NewUserEventHandler(users userCache, log *logger.Logger) *UserEventHandler {
	return &UserEventHandler{users: users, logger: log.WithComponent("user_consumer")}
}

// HandleUserChanged caches the user from user.created and user.updated
func (h *UserEventHandler) HandleUserChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode user: %w", err))
	}
	if data.UserID == "" {
		return messaging.Permanent(fmt.Errorf("user event %s has no user_id", event.ID))
	}

	h.logger.Info().
		Str("event_type", event.Type).
		Str("user_id", data.UserID).
		Msg("caching user")

	return h.users.UpsertUser(ctx, &actor.CachedUser{
		UserID:   data.UserID,
		Name:     data.Name,
		Email:    data.Email,
		BranchID: data.BranchID,
	})
}

// HandleUserDeleted drops the cached user
func (h *UserEventHandler) HandleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode user: %w", err))
	}

	h.logger.Info().
		Str("user_id", data.UserID).
		Msg("dropping cached user")

	return h.users.DeleteUser(ctx, data.UserID)
}

// UserEventConsumer binds the handler to the user exchange
type UserEventConsumer struct {
	consumer *messaging.Consumer
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(rmq *messaging.RabbitMQ, queue string, handler *UserEventHandler, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, queue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	consumer.RegisterHandler(messaging.EventUserCreated, handler.HandleUserChanged)
	consumer.RegisterHandler(messaging.EventUserUpdated, handler.HandleUserChanged)
	consumer.RegisterHandler(messaging.EventUserDeleted, handler.HandleUserDeleted)

	return &UserEventConsumer{consumer: consumer}, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
