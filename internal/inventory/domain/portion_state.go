package domain

// PortionStatus is the lifecycle state of a portion.
type PortionStatus string

const (
	PortionUnused      PortionStatus = "UNUSED"
	PortionUsed        PortionStatus = "USED"
	PortionSpoiled     PortionStatus = "SPOILED"
	PortionWasted      PortionStatus = "WASTED"
	PortionStolen      PortionStatus = "STOLEN"
	PortionMissing     PortionStatus = "MISSING"
	PortionDamaged     PortionStatus = "DAMAGED"
	PortionExpired     PortionStatus = "EXPIRED"
	PortionConsumed    PortionStatus = "CONSUMED"
	PortionInTransit   PortionStatus = "IN_TRANSIT"
	PortionTransferred PortionStatus = "TRANSFERRED"
	PortionRestored    PortionStatus = "RESTORED"
)

// AllPortionStatuses lists every status, in declaration order.
var AllPortionStatuses = []PortionStatus{
	PortionUnused, PortionUsed, PortionSpoiled, PortionWasted, PortionStolen, PortionMissing,
	PortionDamaged, PortionExpired, PortionConsumed, PortionInTransit, PortionTransferred, PortionRestored,
}

// Trigger names the event that moves a portion between statuses.
type Trigger string

const (
	TriggerSell Trigger = "sell"
	// TriggerShip reserves a portion for an outgoing transfer.
	TriggerShip Trigger = "ship"
	// TriggerReceive lands a shipped portion at the destination.
	TriggerReceive Trigger = "receive"
	// TriggerReturn puts a shipped portion back at the source (cancel, reject).
	TriggerReturn  Trigger = "return"
	TriggerRestore Trigger = "restore"
	// TriggerReactivate makes a restored or received portion available again.
	TriggerReactivate Trigger = "reactivate"
)

type transitionKey struct {
	from    PortionStatus
	trigger Trigger
}

// transitions is the complete set of legal portion moves. Anything not
// listed is rejected.
//
// TRANSFERRED is not terminal. Receipt at the destination passes through it
// and then reactivates the portion to UNUSED in the same transaction, so
// transferred stock stays sellable where it lands. The ledger keeps the
// intermediate state in the entry's "via" detail.
var transitions = func() map[transitionKey]PortionStatus {
	t := map[transitionKey]PortionStatus{
		{PortionUnused, TriggerSell}:            PortionUsed,
		{PortionUnused, TriggerShip}:            PortionInTransit,
		{PortionInTransit, TriggerReceive}:      PortionTransferred,
		{PortionInTransit, TriggerReturn}:       PortionUnused,
		{PortionTransferred, TriggerReactivate}: PortionUnused,
		{PortionRestored, TriggerReactivate}:    PortionUnused,
	}
	for _, at := range AllAdjustmentTypes {
		t[transitionKey{PortionUnused, at.Trigger()}] = at.PortionStatus()
	}
	for _, s := range restorableStatuses {
		t[transitionKey{s, TriggerRestore}] = PortionRestored
	}
	return t
}()

// restorableStatuses are the states an adjustment can leave a portion in.
var restorableStatuses = []PortionStatus{
	PortionSpoiled, PortionWasted, PortionStolen, PortionMissing,
	PortionDamaged, PortionExpired, PortionConsumed,
}

// Next returns the status reached from "from" via trigger, or false if the
// move is not in the transition table.
func Next(from PortionStatus, trigger Trigger) (PortionStatus, bool) {
	to, ok := transitions[transitionKey{from, trigger}]
	return to, ok
}

// Transition applies trigger to p and returns the new status. p is not modified
// when the move is illegal.
func (p *Portion) Transition(trigger Trigger) (PortionStatus, error) {
	to, ok := Next(p.Status, trigger)
	if !ok {
		return p.Status, InvalidStateTransition(p.ID, p.Status, trigger)
	}
	p.Status = to
	return to, nil
}

// Restorable reports whether an adjustment left the portion in s.
func (s PortionStatus) Restorable() bool {
	_, ok := Next(s, TriggerRestore)
	return ok
}

// Valid reports whether s is a known status.
func (s PortionStatus) Valid() bool {
	for _, v := range AllPortionStatuses {
		if v == s {
			return true
		}
	}
	return false
}
