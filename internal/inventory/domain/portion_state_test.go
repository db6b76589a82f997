package domain

import (
	"testing"

	"github.com/larder/larder-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_LegalMoves(t *testing.T) {
	tests := []struct {
		from    PortionStatus
		trigger Trigger
		want    PortionStatus
	}{
		{PortionUnused, TriggerSell, PortionUsed},
		{PortionUnused, TriggerShip, PortionInTransit},
		{PortionInTransit, TriggerReceive, PortionTransferred},
		{PortionInTransit, TriggerReturn, PortionUnused},
		{PortionTransferred, TriggerReactivate, PortionUnused},
		{PortionSpoiled, TriggerRestore, PortionRestored},
		{PortionConsumed, TriggerRestore, PortionRestored},
		{PortionRestored, TriggerReactivate, PortionUnused},
		{PortionUnused, AdjustmentSpoilage.Trigger(), PortionSpoiled},
		{PortionUnused, AdjustmentStaffMeal.Trigger(), PortionConsumed},
		{PortionUnused, AdjustmentOther.Trigger(), PortionWasted},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			got, ok := Next(tt.from, tt.trigger)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_IllegalMoves(t *testing.T) {
	tests := []struct {
		from    PortionStatus
		trigger Trigger
	}{
		{PortionUsed, TriggerRestore},
		{PortionTransferred, TriggerRestore},
		{PortionUnused, TriggerRestore},
		{PortionUsed, TriggerSell},
		{PortionInTransit, TriggerSell},
		{PortionSpoiled, TriggerSell},
		{PortionRestored, TriggerSell},
		{PortionSpoiled, AdjustmentWaste.Trigger()},
		{PortionUnused, TriggerReceive},
		{PortionUnused, TriggerReactivate},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			_, ok := Next(tt.from, tt.trigger)
			assert.False(t, ok)
		})
	}
}

func TestPortion_Transition(t *testing.T) {
	p := &Portion{ID: "p1", Status: PortionUnused}

	to, err := p.Transition(TriggerSell)
	require.NoError(t, err)
	assert.Equal(t, PortionUsed, to)
	assert.Equal(t, PortionUsed, p.Status)

	_, err = p.Transition(TriggerRestore)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.Equal(t, "INVALID_STATE_TRANSITION", errors.Code(err))
	assert.Equal(t, PortionUsed, p.Status, "status unchanged on illegal move")
}

func TestPortionStatus_Restorable(t *testing.T) {
	for _, s := range AllPortionStatuses {
		want := false
		for _, r := range restorableStatuses {
			if r == s {
				want = true
			}
		}
		assert.Equal(t, want, s.Restorable(), s)
	}
	assert.False(t, PortionUsed.Restorable())
	assert.False(t, PortionTransferred.Restorable())
	assert.False(t, PortionUnused.Restorable())
}

func TestPortionStatus_Valid(t *testing.T) {
	assert.True(t, PortionInTransit.Valid())
	assert.False(t, PortionStatus("GONE").Valid())
}
