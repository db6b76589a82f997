package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/pkg/logger"
)

type fakeDelivery struct {
	acked, nacked, rejected bool
	requeue                 bool
}

func (f *fakeDelivery) Ack(bool) error { f.acked = true; return nil }
func (f *fakeDelivery) Nack(_ bool, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}
func (f *fakeDelivery) Reject(requeue bool) error {
	f.rejected, f.requeue = true, requeue
	return nil
}

func newTestConsumer(h MessageHandler) *Consumer {
	c := &Consumer{queueName: "test", handlers: map[string]MessageHandler{}, logger: logger.NewNop()}
	if h != nil {
		c.RegisterHandler(EventSaleCompleted, h)
	}
	return c
}

func body(t *testing.T, eventType string) []byte {
	t.Helper()
	ev, err := NewEvent(eventType, "pos", "corr-1", SaleCompletedEvent{SaleID: "s-1"})
	require.NoError(t, err)
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		redelivered bool
		wantAck     bool
		wantNack    bool
		wantReject  bool
	}{
		{name: "success", wantAck: true},
		{name: "business failure acks", handlerErr: Permanent(assert.AnError), wantAck: true},
		{name: "transient failure requeues", handlerErr: assert.AnError, wantNack: true},
		{name: "transient failure after retry dead-letters", handlerErr: assert.AnError, redelivered: true, wantReject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCorrelation string
			c := newTestConsumer(func(ctx context.Context, event *Event) error {
				gotCorrelation = CorrelationID(ctx)
				var sale SaleCompletedEvent
				require.NoError(t, event.UnmarshalData(&sale))
				assert.Equal(t, "s-1", sale.SaleID)
				return tt.handlerErr
			})

			d := &fakeDelivery{}
			c.handleMessage(context.Background(), body(t, EventSaleCompleted), tt.redelivered, d)

			assert.Equal(t, "corr-1", gotCorrelation)
			assert.Equal(t, tt.wantAck, d.acked)
			assert.Equal(t, tt.wantNack, d.nacked)
			assert.Equal(t, tt.wantReject, d.rejected)
			if tt.wantNack {
				assert.True(t, d.requeue)
			}
		})
	}
}

func TestHandleMessage_Malformed(t *testing.T) {
	d := &fakeDelivery{}
	newTestConsumer(nil).handleMessage(context.Background(), []byte("{not json"), false, d)
	assert.True(t, d.rejected)
	assert.False(t, d.requeue)
}

func TestHandleMessage_UnknownTypeAcks(t *testing.T) {
	d := &fakeDelivery{}
	newTestConsumer(nil).handleMessage(context.Background(), body(t, "sale.voided"), false, d)
	assert.True(t, d.acked)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	err := Permanent(assert.AnError)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, IsPermanent(assert.AnError))
}
