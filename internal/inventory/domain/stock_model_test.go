package domain

import (
	"testing"

	"github.com/larder/larder-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMeasured_Take(t *testing.T) {
	m := Measured{Received: d("100"), Remaining: d("15.50")}

	got, err := m.Take(d("15.50"))
	require.NoError(t, err)
	assert.True(t, got.Remaining.IsZero())

	_, err = m.Take(d("15.51"))
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	_, err = m.Take(d("0"))
	assert.True(t, errors.Is(err, ErrInvalidQuantity))

	_, err = m.Take(d("1.005"))
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
	assert.True(t, m.Remaining.Equal(d("15.50")), "receiver untouched")
}

func TestMeasured_Put(t *testing.T) {
	m := Measured{Received: d("100"), Remaining: d("70")}

	got, err := m.Put(d("30"))
	require.NoError(t, err)
	assert.True(t, got.Remaining.Equal(d("100")))

	_, err = m.Put(d("30.01"))
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestMeasured_Correct(t *testing.T) {
	m := Measured{Received: d("20"), Remaining: d("15")}

	tests := []struct {
		name      string
		corrected string
		received  string
		remaining string
		delta     string
		wantErr   bool
	}{
		{name: "raise", corrected: "25", received: "25", remaining: "20", delta: "5"},
		{name: "down to consumed", corrected: "5", received: "5", remaining: "0", delta: "-15"},
		{name: "below consumed", corrected: "3", wantErr: true},
		{name: "negative", corrected: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, delta, err := m.Correct(d(tt.corrected))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidQuantity))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Received.Equal(d(tt.received)))
			assert.True(t, got.Remaining.Equal(d(tt.remaining)))
			assert.True(t, delta.Equal(d(tt.delta)))
			assert.True(t, got.Valid())
		})
	}
}

func TestModelOf(t *testing.T) {
	b := &Batch{QuantityReceived: d("5"), RemainingQuantity: d("5")}
	portions := []Portion{
		{ID: "a", Status: PortionUnused},
		{ID: "b", Status: PortionUsed},
		{ID: "c", Status: PortionUnused},
	}

	var model StockModel = ModelOf(TrackingByPortion, b, portions)
	p, ok := model.(Portioned)
	require.True(t, ok)
	assert.True(t, p.OnHand().Equal(d("2")))
	assert.Equal(t, TrackingByPortion, p.Tracking())

	model = ModelOf(TrackingByMeasure, b, nil)
	m, ok := model.(Measured)
	require.True(t, ok)
	assert.True(t, m.OnHand().Equal(d("5")))
}

func TestSelection_Check(t *testing.T) {
	tests := []struct {
		name     string
		sel      Selection
		tracking TrackingType
		wantErr  error
	}{
		{"measure ok", Selection{Quantity: d("1.25")}, TrackingByMeasure, nil},
		{"measure with portions", Selection{PortionIDs: []string{"p"}}, TrackingByMeasure, ErrTrackingTypeMismatch},
		{"measure zero", Selection{}, TrackingByMeasure, ErrInvalidQuantity},
		{"portion ok", Selection{PortionIDs: []string{"p1", "p2"}}, TrackingByPortion, nil},
		{"portion empty", Selection{}, TrackingByPortion, ErrInvalidQuantity},
		{"portion duplicate", Selection{PortionIDs: []string{"p1", "p1"}}, TrackingByPortion, ErrInvalidQuantity},
		{"portion with quantity", Selection{Quantity: d("1"), PortionIDs: []string{"p1"}}, TrackingByPortion, ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Check(tt.tracking)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestIsWhole(t *testing.T) {
	assert.True(t, IsWhole(d("12")))
	assert.True(t, IsWhole(d("12.00")))
	assert.False(t, IsWhole(d("12.5")))
}
