package testutil

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/permissions"
)

// FixtureFactory creates test identities with unique, readable defaults
type FixtureFactory struct {
	sequence atomic.Int64
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

func (f *FixtureFactory) nextSeq() int64 {
	return f.sequence.Add(1)
}

// BranchID returns a fresh branch ID
func (f *FixtureFactory) BranchID() string {
	return uuid.NewString()
}

// Code returns a unique item code such as "ITM-0003"
func (f *FixtureFactory) Code() string {
	return fmt.Sprintf("ITM-%04d", f.nextSeq())
}

// Staff returns a non-elevated actor affiliated with branchID
func (f *FixtureFactory) Staff(branchID string) *actor.Actor {
	n := f.nextSeq()
	return &actor.Actor{
		ID:          uuid.NewString(),
		Name:        fmt.Sprintf("Staff %d", n),
		BranchID:    branchID,
		Permissions: []string{permissions.InventoryRead, permissions.InventoryWrite, permissions.InventoryAdjust, permissions.InventoryTransfer},
	}
}

// Admin returns an elevated actor affiliated with branchID
func (f *FixtureFactory) Admin(branchID string) *actor.Actor {
	a := f.Staff(branchID)
	a.Name = "Admin " + a.Name
	a.Elevated = true
	a.Permissions = append(a.Permissions, permissions.InventoryAdmin)
	return a
}

// D parses a decimal literal and panics on malformed input
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NullD parses a decimal literal into a valid NullDecimal
func NullD(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: D(s), Valid: true}
}
