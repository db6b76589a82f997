package domain

import (
	"github.com/shopspring/decimal"
)

// StockModel is the tracking-specific view of one batch. It is either
// Measured or Portioned; the engine switches on the concrete type.
type StockModel interface {
	// OnHand is the available stock: remaining quantity, or the UNUSED portion count.
	OnHand() decimal.Decimal
	Tracking() TrackingType
	stockModel()
}

// Measured is a BY_MEASURE batch's counter pair.
type Measured struct {
	Received  decimal.Decimal
	Remaining decimal.Decimal
}

func (Measured) stockModel()            {}
func (Measured) Tracking() TrackingType { return TrackingByMeasure }
func (m Measured) OnHand() decimal.Decimal { return m.Remaining }

// Take removes q from the remaining quantity.
func (m Measured) Take(q decimal.Decimal) (Measured, error) {
	if err := CheckQuantity(q); err != nil {
		return m, err
	}
	if q.GreaterThan(m.Remaining) {
		return m, InsufficientStock(q, m.Remaining)
	}
	m.Remaining = m.Remaining.Sub(q)
	return m, nil
}

// Put returns q to the remaining quantity; remaining can never exceed received.
func (m Measured) Put(q decimal.Decimal) (Measured, error) {
	if err := CheckQuantity(q); err != nil {
		return m, err
	}
	next := m.Remaining.Add(q)
	if next.GreaterThan(m.Received) {
		return m, InvalidQuantity("remaining quantity would exceed quantity received")
	}
	m.Remaining = next
	return m, nil
}

// Correct replaces the received quantity, shifting remaining by the same delta
// so stock already consumed stays consumed.
func (m Measured) Correct(corrected decimal.Decimal) (Measured, decimal.Decimal, error) {
	if err := CheckNonNegative(corrected); err != nil {
		return m, decimal.Zero, err
	}
	delta := corrected.Sub(m.Received)
	remaining := m.Remaining.Add(delta)
	if remaining.IsNegative() {
		return m, decimal.Zero, InvalidQuantity("correction would make the remaining quantity negative")
	}
	return Measured{Received: corrected, Remaining: remaining}, delta, nil
}

// Valid checks 0 <= remaining <= received.
func (m Measured) Valid() bool {
	return !m.Remaining.IsNegative() && m.Remaining.LessThanOrEqual(m.Received)
}

// Portioned is a BY_PORTION batch's portion set.
type Portioned struct {
	Portions []Portion
}

func (Portioned) stockModel()            {}
func (Portioned) Tracking() TrackingType { return TrackingByPortion }

func (p Portioned) OnHand() decimal.Decimal {
	return decimal.NewFromInt(int64(p.CountIn(PortionUnused)))
}

// CountIn counts portions in status s.
func (p Portioned) CountIn(s PortionStatus) int {
	n := 0
	for _, portion := range p.Portions {
		if portion.Status == s {
			n++
		}
	}
	return n
}

// ModelOf builds the stock model for a batch of an item with the given tracking type.
// portions is ignored for measured batches.
func ModelOf(tracking TrackingType, b *Batch, portions []Portion) StockModel {
	if tracking == TrackingByPortion {
		return Portioned{Portions: portions}
	}
	return Measured{Received: b.QuantityReceived, Remaining: b.RemainingQuantity}
}

// Selection says what a deduction or adjustment takes: a quantity for
// measured items, explicit portions for portioned ones.
type Selection struct {
	Quantity   decimal.Decimal `json:"quantity"`
	PortionIDs []string        `json:"portion_ids,omitempty"`
}

// ByPortion reports whether the selection names portions.
func (s Selection) ByPortion() bool {
	return len(s.PortionIDs) > 0
}

// Check validates the selection shape against a tracking type.
func (s Selection) Check(tracking TrackingType) error {
	switch tracking {
	case TrackingByPortion:
		if !s.ByPortion() {
			return InvalidQuantity("portion ids are required for portion-tracked items")
		}
		if !s.Quantity.IsZero() {
			return InvalidQuantity("quantity is not accepted for portion-tracked items")
		}
		seen := make(map[string]struct{}, len(s.PortionIDs))
		for _, id := range s.PortionIDs {
			if _, dup := seen[id]; dup {
				return InvalidQuantity("portion " + id + " listed twice")
			}
			seen[id] = struct{}{}
		}
		return nil
	case TrackingByMeasure:
		if s.ByPortion() {
			return TrackingTypeMismatch(tracking)
		}
		return CheckQuantity(s.Quantity)
	default:
		return TrackingTypeMismatch(tracking)
	}
}
