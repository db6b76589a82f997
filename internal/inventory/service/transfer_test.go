package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/testutil"
)

type measureSetup struct {
	item  *domain.Item
	batch *domain.Batch
}

// measuredTransfer sends qty of a 50-unit batch from the fixture branch to a new branch.
func measuredTransfer(t *testing.T, fx *fixture, qty string) (*domain.Transfer, *measureSetup, string) {
	t.Helper()
	item := fx.item(t, domain.TrackingByMeasure, "0")
	b := fx.receive(t, item, fx.branch, "50", time.Hour).Batch
	dest := fx.factory.BranchID()

	tr, err := fx.transfers.Create(fx.ctx, fx.staff, service.CreateTransferRequest{
		SourceBranchID:      fx.branch,
		DestinationBranchID: dest,
		Lines:               []service.TransferLine{{ItemID: item.ID, BatchID: b.ID, Quantity: testutil.D(qty)}},
	})
	require.NoError(t, err)
	return tr, &measureSetup{item: item, batch: b}, dest
}

// Transfer 10 of 50 and receive all of it.
func TestTransfer_MeasuredCreateAndReceive(t *testing.T) {
	fx := newFixture(t)
	tr, src, dest := measuredTransfer(t, fx, "10")

	assert.Equal(t, domain.TransferPending, tr.Status)
	require.Len(t, tr.Items, 1)
	assertRemaining(t, fx.batch(t, src.batch.ID), "40")
	initiated := fx.entries(t, src.batch.ID, domain.ActionTransferInitiated)
	require.Len(t, initiated, 1)
	require.NotNil(t, initiated[0].TransferID)
	assert.Equal(t, tr.ID, *initiated[0].TransferID)
	fx.events.AssertEventPublished(t, messaging.EventTransferCreated)

	done, err := fx.transfers.Receive(fx.ctx, fx.factory.Staff(dest), tr.ID, []service.LineReception{{
		TransferItemID:   tr.Items[0].ID,
		Status:           domain.ReceptionReceived,
		ReceivedQuantity: testutil.Ptr(testutil.D("10")),
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, done.Status)
	require.NotNil(t, done.ReceivedAt)
	require.NotNil(t, done.Items[0].DestinationBatchID)

	landed := fx.batch(t, *done.Items[0].DestinationBatchID)
	assert.Equal(t, dest, landed.BranchID)
	assert.Equal(t, domain.SourceTransfer, landed.Source)
	assert.Equal(t, src.batch.ID, *landed.SourceBatchID)
	assert.Equal(t, tr.ID, *landed.SourceTransferID)
	assertRemaining(t, landed, "10")
	assert.True(t, landed.QuantityReceived.Equal(testutil.D("10")))
	assert.Len(t, fx.entries(t, landed.ID, domain.ActionTransferReceived), 1)
	assertRemaining(t, fx.batch(t, src.batch.ID), "40")

	fx.events.AssertEventPublished(t, messaging.EventTransferReceived)

	_, err = fx.transfers.Cancel(fx.ctx, fx.staff, tr.ID)
	assertCode(t, err, "TRANSFER_NOT_PENDING")
}

func TestTransfer_Conservation(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByMeasure, "0")
	a := fx.receive(t, item, fx.branch, "12.50", 2*time.Hour).Batch
	b := fx.receive(t, item, fx.branch, "7.25", time.Hour).Batch
	dest := fx.factory.BranchID()

	before, err := fx.store.RemainingTotals(fx.ctx, fx.branch)
	require.NoError(t, err)

	tr, err := fx.transfers.Create(fx.ctx, fx.staff, service.CreateTransferRequest{
		SourceBranchID:      fx.branch,
		DestinationBranchID: dest,
		Lines: []service.TransferLine{
			{ItemID: item.ID, BatchID: a.ID, Quantity: testutil.D("4.75")},
			{ItemID: item.ID, BatchID: b.ID, Quantity: testutil.D("7.25")},
			{ItemID: item.ID, BatchID: a.ID, Quantity: testutil.D("0.50")},
		},
	})
	require.NoError(t, err)
	assertRemaining(t, fx.batch(t, a.ID), "7.25")
	assertRemaining(t, fx.batch(t, b.ID), "0")

	var receptions []service.LineReception
	for _, it := range tr.Items {
		receptions = append(receptions, service.LineReception{TransferItemID: it.ID, Status: domain.ReceptionReceived})
	}
	_, err = fx.transfers.Receive(fx.ctx, fx.factory.Staff(dest), tr.ID, receptions)
	require.NoError(t, err)

	after, err := fx.store.RemainingTotals(fx.ctx, fx.branch)
	require.NoError(t, err)
	arrived, err := fx.store.RemainingTotals(fx.ctx, dest)
	require.NoError(t, err)

	decrement := before[item.ID].Sub(after[item.ID])
	assert.True(t, decrement.Equal(testutil.D("12.50")), "decrement = %s", decrement)
	assert.True(t, decrement.Equal(arrived[item.ID]), "decrement %s != increment %s", decrement, arrived[item.ID])
}

// Same transfer, cancelled while pending.
func TestTransfer_Cancel(t *testing.T) {
	fx := newFixture(t)
	tr, src, dest := measuredTransfer(t, fx, "10")

	_, err := fx.transfers.Cancel(fx.ctx, fx.factory.Staff(dest), tr.ID)
	assertCode(t, err, "PERMISSION_DENIED")

	cancelled, err := fx.transfers.Cancel(fx.ctx, fx.staff, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCancelled, cancelled.Status)
	assertRemaining(t, fx.batch(t, src.batch.ID), "50")
	assert.Len(t, fx.entries(t, src.batch.ID, domain.ActionTransferCancelled), 1)

	batches, _, err := fx.store.ListBatches(fx.ctx, domain.BatchFilter{BranchID: dest})
	require.NoError(t, err)
	assert.Empty(t, batches)

	_, err = fx.transfers.Receive(fx.ctx, fx.factory.Staff(dest), tr.ID, []service.LineReception{{TransferItemID: tr.Items[0].ID, Status: domain.ReceptionReceived}})
	assertCode(t, err, "TRANSFER_NOT_PENDING")
	fx.events.AssertEventPublished(t, messaging.EventTransferCancelled)
}

func TestTransfer_RejectWholeShipment(t *testing.T) {
	fx := newFixture(t)
	tr, src, dest := measuredTransfer(t, fx, "10")

	_, err := fx.transfers.Reject(fx.ctx, fx.staff, tr.ID)
	assertCode(t, err, "PERMISSION_DENIED")

	rejected, err := fx.transfers.Reject(fx.ctx, fx.factory.Staff(dest), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferRejected, rejected.Status)
	assert.NotNil(t, rejected.ReceivedAt)
	assertRemaining(t, fx.batch(t, src.batch.ID), "50")
	assert.Len(t, fx.entries(t, src.batch.ID, domain.ActionTransferRejected), 1)
	fx.events.AssertEventPublished(t, messaging.EventTransferRejected)
}

func TestTransfer_ShortfallIsLoggedAgainstSource(t *testing.T) {
	fx := newFixture(t)
	tr, src, dest := measuredTransfer(t, fx, "10")

	done, err := fx.transfers.Receive(fx.ctx, fx.factory.Staff(dest), tr.ID, []service.LineReception{{
		TransferItemID:   tr.Items[0].ID,
		Status:           domain.ReceptionReceived,
		ReceivedQuantity: testutil.Ptr(testutil.D("8.5")),
		Notes:            testutil.Ptr("one bag split"),
	}})
	require.NoError(t, err)
	line := done.Items[0]
	assert.Equal(t, domain.ReceptionReceivedWithIssues, line.ReceptionStatus)
	assert.True(t, line.ReceivedQuantity.Decimal.Equal(testutil.D("8.5")))
	assertRemaining(t, fx.batch(t, *line.DestinationBatchID), "8.5")

	// The loss is recorded, not returned.
	assertRemaining(t, fx.batch(t, src.batch.ID), "40")
	short := fx.entries(t, src.batch.ID, domain.ActionTransferShortfall)
	require.Len(t, short, 1)
	d := details(t, short[0])
	assert.True(t, d.LostQuantity.Equal(testutil.D("1.5")))
	assert.Equal(t, "one bag split", d.ReceptionNotes)
}

func TestTransfer_ReceiveRejections(t *testing.T) {
	fx := newFixture(t)
	tr, _, dest := measuredTransfer(t, fx, "10")
	receiver := fx.factory.Staff(dest)
	line := tr.Items[0].ID

	tests := []struct {
		name string
		recs []service.LineReception
		code string
	}{
		{"more than sent", []service.LineReception{{TransferItemID: line, Status: domain.ReceptionReceived, ReceivedQuantity: testutil.Ptr(testutil.D("10.01"))}}, "INVALID_QUANTITY"},
		{"pending is not a verdict", []service.LineReception{{TransferItemID: line, Status: domain.ReceptionPending}}, "VALIDATION_ERROR"},
		{"unknown line", []service.LineReception{{TransferItemID: "nope", Status: domain.ReceptionReceived}}, "NOT_FOUND"},
		{"listed twice", []service.LineReception{{TransferItemID: line, Status: domain.ReceptionReceived}, {TransferItemID: line, Status: domain.ReceptionRejected}}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.transfers.Receive(fx.ctx, receiver, tr.ID, tt.recs)
			assertCode(t, err, tt.code)
		})
	}

	_, err := fx.transfers.Receive(fx.ctx, fx.staff, tr.ID, []service.LineReception{{TransferItemID: line, Status: domain.ReceptionReceived}})
	assertCode(t, err, "PERMISSION_DENIED")

	got, err := fx.transfers.Get(fx.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, got.Status)
	assert.Equal(t, domain.ReceptionPending, got.Items[0].ReceptionStatus)
}

func TestTransfer_CreateRejections(t *testing.T) {
	fx := newFixture(t)
	measured := fx.item(t, domain.TrackingByMeasure, "0")
	portioned := fx.item(t, domain.TrackingByPortion, "0")
	b := fx.receive(t, measured, fx.branch, "5", time.Hour).Batch
	r := fx.receive(t, portioned, fx.branch, "2", time.Hour)
	dest := fx.factory.BranchID()

	tests := []struct {
		name string
		req  service.CreateTransferRequest
		code string
	}{
		{
			name: "same branch",
			req:  service.CreateTransferRequest{SourceBranchID: fx.branch, DestinationBranchID: fx.branch, Lines: []service.TransferLine{{ItemID: measured.ID, BatchID: b.ID, Quantity: testutil.D("1")}}},
			code: "SAME_BRANCH_TRANSFER",
		},
		{
			name: "more than remaining",
			req:  service.CreateTransferRequest{SourceBranchID: fx.branch, DestinationBranchID: dest, Lines: []service.TransferLine{{ItemID: measured.ID, BatchID: b.ID, Quantity: testutil.D("5.01")}}},
			code: "INSUFFICIENT_STOCK",
		},
		{
			name: "lines drain the batch together",
			req: service.CreateTransferRequest{SourceBranchID: fx.branch, DestinationBranchID: dest, Lines: []service.TransferLine{
				{ItemID: measured.ID, BatchID: b.ID, Quantity: testutil.D("3")},
				{ItemID: measured.ID, BatchID: b.ID, Quantity: testutil.D("3")},
			}},
			code: "INSUFFICIENT_STOCK",
		},
		{
			name: "quantity line for a portioned item",
			req:  service.CreateTransferRequest{SourceBranchID: fx.branch, DestinationBranchID: dest, Lines: []service.TransferLine{{ItemID: portioned.ID, BatchID: b.ID, Quantity: testutil.D("1")}}},
			code: "INVALID_QUANTITY",
		},
		{
			name: "portion listed twice",
			req: service.CreateTransferRequest{SourceBranchID: fx.branch, DestinationBranchID: dest, Lines: []service.TransferLine{
				{ItemID: portioned.ID, PortionIDs: []string{r.Portions[0].ID}},
				{ItemID: portioned.ID, PortionIDs: []string{r.Portions[0].ID}},
			}},
			code: "INVALID_QUANTITY",
		},
		{
			name: "no lines",
			req:  service.CreateTransferRequest{SourceBranchID: fx.branch, DestinationBranchID: dest},
			code: "VALIDATION_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.transfers.Create(fx.ctx, fx.staff, tt.req)
			assertCode(t, err, tt.code)
		})
	}

	_, err := fx.transfers.Create(fx.ctx, fx.factory.Staff(dest), service.CreateTransferRequest{
		SourceBranchID: fx.branch, DestinationBranchID: dest,
		Lines: []service.TransferLine{{ItemID: measured.ID, BatchID: b.ID, Quantity: testutil.D("1")}},
	})
	assertCode(t, err, "PERMISSION_DENIED")

	assertRemaining(t, fx.batch(t, b.ID), "5")
	for _, p := range r.Portions {
		assert.Equal(t, domain.PortionUnused, fx.portion(t, p.ID).Status)
	}
	_, published := fx.events.Find(messaging.EventTransferCreated)
	assert.False(t, published)
}

func TestTransfer_PortionsPartialReceipt(t *testing.T) {
	fx := newFixture(t)
	item := fx.item(t, domain.TrackingByPortion, "0")
	r := fx.receive(t, item, fx.branch, "3", time.Hour)
	dest := fx.factory.BranchID()
	receiver := fx.factory.Staff(dest)

	tr, err := fx.transfers.Create(fx.ctx, fx.staff, service.CreateTransferRequest{
		SourceBranchID:      fx.branch,
		DestinationBranchID: dest,
		Lines:               []service.TransferLine{{ItemID: item.ID, BatchID: r.Batch.ID, PortionIDs: portionIDs(r.Portions[:2])}},
	})
	require.NoError(t, err)
	require.Len(t, tr.Items, 2)
	for _, it := range tr.Items {
		require.NotNil(t, it.PortionID)
		assert.True(t, it.Quantity.Equal(testutil.D("1")))
		assert.Equal(t, domain.PortionInTransit, fx.portion(t, *it.PortionID).Status)
	}

	// Out of stock at the source while in transit.
	_, err = fx.engine.DeductForSale(fx.ctx, fx.staff, service.DeductRequest{
		ItemID: item.ID, BranchID: fx.branch, Selection: domain.Selection{PortionIDs: []string{*tr.Items[0].PortionID}},
	})
	assertCode(t, err, "INVALID_STATE_TRANSITION")

	first, second := tr.Items[0], tr.Items[1]
	partial, err := fx.transfers.Receive(fx.ctx, receiver, tr.ID, []service.LineReception{{TransferItemID: first.ID, Status: domain.ReceptionReceived}})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, partial.Status)

	arrived := fx.portion(t, *first.PortionID)
	assert.Equal(t, dest, arrived.BranchID)
	assert.Equal(t, domain.PortionUnused, arrived.Status)
	assert.Equal(t, r.Batch.ID, arrived.BatchID)

	_, err = fx.transfers.Receive(fx.ctx, receiver, tr.ID, []service.LineReception{{TransferItemID: first.ID, Status: domain.ReceptionReceived}})
	assertCode(t, err, "CONFLICT")
	_, err = fx.transfers.Cancel(fx.ctx, fx.staff, tr.ID)
	assertCode(t, err, "CONFLICT")

	done, err := fx.transfers.Receive(fx.ctx, receiver, tr.ID, []service.LineReception{{TransferItemID: second.ID, Status: domain.ReceptionRejected}})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, done.Status)

	returned := fx.portion(t, *second.PortionID)
	assert.Equal(t, fx.branch, returned.BranchID)
	assert.Equal(t, domain.PortionUnused, returned.Status)

	// The received portion is sellable at the destination.
	_, err = fx.engine.DeductForSale(fx.ctx, receiver, service.DeductRequest{
		ItemID: item.ID, BranchID: dest, Selection: domain.Selection{PortionIDs: []string{arrived.ID}},
	})
	require.NoError(t, err)

	received := fx.entries(t, r.Batch.ID, domain.ActionTransferReceived)
	require.Len(t, received, 1)
	d := details(t, received[0])
	assert.Equal(t, []domain.PortionStatus{domain.PortionTransferred}, d.Via)
	assert.Equal(t, dest, received[0].BranchID)
	assert.Len(t, fx.entries(t, r.Batch.ID, domain.ActionTransferLineRejected), 1)
}

func TestTransfer_MeasuredLineRejectedReturnsToSource(t *testing.T) {
	fx := newFixture(t)
	tr, src, dest := measuredTransfer(t, fx, "10")

	done, err := fx.transfers.Receive(fx.ctx, fx.factory.Staff(dest), tr.ID, []service.LineReception{{
		TransferItemID: tr.Items[0].ID,
		Status:         domain.ReceptionRejected,
		Notes:          testutil.Ptr("wrong product"),
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, done.Status)
	assert.Nil(t, done.Items[0].DestinationBatchID)
	assertRemaining(t, fx.batch(t, src.batch.ID), "50")
	assert.Len(t, fx.entries(t, src.batch.ID, domain.ActionTransferLineRejected), 1)
}

func TestTransfer_List(t *testing.T) {
	fx := newFixture(t)
	tr, _, dest := measuredTransfer(t, fx, "1")

	for _, branch := range []string{fx.branch, dest} {
		list, total, err := fx.transfers.List(fx.ctx, domain.TransferFilter{BranchID: branch})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, tr.ID, list[0].ID)
	}

	list, _, err := fx.transfers.List(fx.ctx, domain.TransferFilter{BranchID: dest, Status: domain.TransferCompleted})
	require.NoError(t, err)
	assert.Empty(t, list)
}
