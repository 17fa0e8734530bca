package events

import "time"

const (
	// TypeLoyaltyEnrolled is emitted when an account is first created for an
	// (identity, merchant) pair.
	TypeLoyaltyEnrolled = "loyalty.enrolled"
	// TypeLoyaltyAdjusted is emitted when a delta is applied to a balance.
	TypeLoyaltyAdjusted = "loyalty.adjusted"
)

// LoyaltyEnrolled captures the idempotent creation of a loyalty account.
type LoyaltyEnrolled struct {
	Identity   string
	Merchant   string
	EnrolledAt time.Time
}

// EventType implements the Event interface.
func (LoyaltyEnrolled) EventType() string { return TypeLoyaltyEnrolled }

// LoyaltyAdjusted captures one applied balance delta. Balance is the resulting
// balance after clamping; Delta is the requested adjustment.
type LoyaltyAdjusted struct {
	Identity   string
	Merchant   string
	Delta      int64
	Balance    int64
	AdjustedAt time.Time
}

// EventType implements the Event interface.
func (LoyaltyAdjusted) EventType() string { return TypeLoyaltyAdjusted }
