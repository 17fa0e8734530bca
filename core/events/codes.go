package events

import "time"

const (
	// TypeCodeIssued is emitted when a new active code is allocated for an
	// identity.
	TypeCodeIssued = "codes.issued"
	// TypeCodeRetired is emitted when an active code is soft-retired.
	TypeCodeRetired = "codes.retired"
)

// CodeIssued captures a freshly allocated identity code. Collisions counts
// the candidate values rejected before the allocation stuck.
type CodeIssued struct {
	Identity   string
	Code       string
	IssuedAt   time.Time
	Collisions int
}

// EventType implements the Event interface.
func (CodeIssued) EventType() string { return TypeCodeIssued }

// CodeRetired captures the soft retirement of an active code.
type CodeRetired struct {
	Identity  string
	Code      string
	RetiredAt time.Time
}

// EventType implements the Event interface.
func (CodeRetired) EventType() string { return TypeCodeRetired }
