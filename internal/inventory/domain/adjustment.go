package domain

import "strings"

// AdjustmentType is the reason class of a manual negative stock change.
type AdjustmentType string

const (
	AdjustmentSpoilage  AdjustmentType = "SPOILAGE"
	AdjustmentWaste     AdjustmentType = "WASTE"
	AdjustmentTheft     AdjustmentType = "THEFT"
	AdjustmentDamage    AdjustmentType = "DAMAGE"
	AdjustmentMissing   AdjustmentType = "MISSING"
	AdjustmentExpired   AdjustmentType = "EXPIRED"
	AdjustmentStaffMeal AdjustmentType = "STAFF_MEAL"
	AdjustmentOther     AdjustmentType = "OTHER"
)

// AllAdjustmentTypes lists every adjustment type.
var AllAdjustmentTypes = []AdjustmentType{
	AdjustmentSpoilage, AdjustmentWaste, AdjustmentTheft, AdjustmentDamage,
	AdjustmentMissing, AdjustmentExpired, AdjustmentStaffMeal, AdjustmentOther,
}

var adjustmentStatus = map[AdjustmentType]PortionStatus{
	AdjustmentSpoilage:  PortionSpoiled,
	AdjustmentWaste:     PortionWasted,
	AdjustmentTheft:     PortionStolen,
	AdjustmentDamage:    PortionDamaged,
	AdjustmentMissing:   PortionMissing,
	AdjustmentExpired:   PortionExpired,
	AdjustmentStaffMeal: PortionConsumed,
	AdjustmentOther:     PortionWasted,
}

// ParseAdjustmentType accepts any case.
func ParseAdjustmentType(s string) (AdjustmentType, bool) {
	t := AdjustmentType(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := adjustmentStatus[t]
	return t, ok
}

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	_, ok := adjustmentStatus[t]
	return ok
}

// PortionStatus is the status an adjusted portion ends in.
func (t AdjustmentType) PortionStatus() PortionStatus {
	return adjustmentStatus[t]
}

// LogAction is the ledger action recorded for the adjustment.
func (t AdjustmentType) LogAction() LogAction {
	return LogAction("ADJUSTMENT_" + string(t))
}

// Trigger is the portion transition trigger for the adjustment.
func (t AdjustmentType) Trigger() Trigger {
	return Trigger("adjust_" + strings.ToLower(string(t)))
}

// RequiresReason reports whether a free-text reason is mandatory.
func (t AdjustmentType) RequiresReason() bool {
	return t == AdjustmentOther || t == AdjustmentMissing
}
