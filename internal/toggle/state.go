package toggle

import (
	"encoding/json"
	"fmt"

	"grimm.is/toggled/internal/snapshot"
)

// Optimistic is the locally held tentative state: either unset or
// pending a specific value.
type Optimistic struct {
	set   bool
	value bool
}

// Unset is the optimistic state that defers to the snapshot.
var Unset = Optimistic{}

// Pending returns an optimistic state holding on.
func Pending(on bool) Optimistic {
	return Optimistic{set: true, value: on}
}

// IsSet reports whether a tentative value is held.
func (o Optimistic) IsSet() bool { return o.set }

// Value returns the tentative value and whether one is held.
func (o Optimistic) Value() (bool, bool) { return o.value, o.set }

func (o Optimistic) String() string {
	switch {
	case !o.set:
		return "unset"
	case o.value:
		return "on"
	default:
		return "off"
	}
}

// MarshalJSON renders the state as "unset", "on" or "off".
func (o Optimistic) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON accepts the forms produced by MarshalJSON.
func (o *Optimistic) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "on":
		*o = Pending(true)
	case "off":
		*o = Pending(false)
	case "unset", "":
		*o = Unset
	default:
		return fmt.Errorf("invalid optimistic state %q", s)
	}
	return nil
}

// Phase is the controller's position in the write protocol.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseWriting     Phase = "writing"
	PhaseRollingBack Phase = "rolling-back"
)

// Display resolves what the user sees: the optimistic value when held,
// otherwise the data attribute read from the snapshot record.
func Display(opt Optimistic, rec snapshot.Record, desc Descriptor) bool {
	if v, ok := opt.Value(); ok {
		return v
	}
	return rec.Bool(desc.DataAttribute) != desc.Invert
}

// State is a point-in-time view of a controller.
type State struct {
	Entity     string          `json:"entity"`
	Type       string          `json:"type"`
	RecordID   string          `json:"record_id"`
	Display    bool            `json:"display"`
	Optimistic Optimistic      `json:"optimistic"`
	Phase      Phase           `json:"phase"`
	Record     snapshot.Record `json:"record,omitempty"`
}
