// Package toggle drives user-initiated on/off changes to router
// configuration objects.
//
// Every toggle follows the same protocol: the requested state is shown
// immediately as an optimistic value, one remote write is issued, and on
// success the coordinator is asked for a fresh snapshot while the
// optimistic value is dropped. An explicit rejection restores the state
// seen before the request and asks for nothing.
package toggle

import (
	"context"

	"grimm.is/toggled/internal/snapshot"
)

// CapabilityWrite must be present in the session's access list for any
// mutating request to proceed.
const CapabilityWrite = "write"

// Writer performs remote mutations.
type Writer interface {
	// SetValue writes modField=modValue on the record under path where
	// refField equals refValue. false reports an explicit rejection.
	SetValue(ctx context.Context, path, refField string, refValue any, modField string, modValue any) (bool, error)

	// Execute runs a named command on the record where refField equals refValue.
	Execute(ctx context.Context, path, command, refField string, refValue any) error
}

// Refresher asks the coordinator for a new snapshot. It must not block.
type Refresher interface {
	RequestRefresh()
}

// Capabilities reports the active session's access rights.
type Capabilities interface {
	Capabilities() []string
}

// SnapshotSource returns the most recently published snapshot.
type SnapshotSource interface {
	Current() *snapshot.Snapshot
}

// Notifier receives every visible state change of a controller.
type Notifier interface {
	Notify(Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Change)

// Notify calls f(c).
func (f NotifierFunc) Notify(c Change) { f(c) }

// Outcome is the result of a toggle request.
type Outcome string

const (
	// OutcomeApplied means the write was accepted and a refresh requested.
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected means the write failed and local state was rolled back.
	OutcomeRejected Outcome = "rejected"
	// OutcomeBusy means a write for the same entity was already in flight.
	OutcomeBusy Outcome = "busy"
	// OutcomeDenied means the session lacks write capability.
	OutcomeDenied Outcome = "denied"
	// OutcomeManagedElsewhere means another subsystem owns the target.
	OutcomeManagedElsewhere Outcome = "managed-elsewhere"
)

// Result describes what a request did.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Message   string  `json:"message,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

// Change is the payload of a state-changed notification.
type Change struct {
	Entity     string     `json:"entity"`
	Type       string     `json:"type"`
	RequestID  string     `json:"request_id"`
	Requested  bool       `json:"requested"`
	Phase      Phase      `json:"phase"`
	Display    bool       `json:"display"`
	Optimistic Optimistic `json:"optimistic"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func hasCapability(caps Capabilities, want string) bool {
	if caps == nil {
		return false
	}
	for _, c := range caps.Capabilities() {
		if c == want {
			return true
		}
	}
	return false
}
