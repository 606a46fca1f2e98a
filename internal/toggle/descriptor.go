package toggle

import (
	"fmt"

	"grimm.is/toggled/internal/match"
)

// Identity selects how a toggle finds the object it writes to.
type Identity interface {
	identity() string
}

// DirectReference writes against the descriptor's reference field using
// the value held in the toggle's own record.
type DirectReference struct{}

// CompositeKey locates the object by its device-side uniqueness signature
// and writes against ".id".
type CompositeKey struct {
	Signature match.Signature
}

// NameKey locates the object by name and writes against ".id".
type NameKey struct{}

// CommandBased replaces the field write with a remote command, addressed
// like DirectReference.
type CommandBased struct {
	On  string
	Off string
}

func (DirectReference) identity() string { return "direct" }
func (k CompositeKey) identity() string  { return "composite:" + k.Signature.Rule }
func (NameKey) identity() string         { return "name" }
func (CommandBased) identity() string    { return "command" }

// Command returns the command for the requested state.
func (c CommandBased) Command(on bool) string {
	if on {
		return c.On
	}
	return c.Off
}

// Descriptor is the static metadata of one toggle type.
type Descriptor struct {
	// Type names the entity type, e.g. "nat".
	Type string
	// Collection is the snapshot collection holding the toggle's records.
	Collection string
	// Path is the remote configuration path written to.
	Path string
	// Reference is the field identifying the write target.
	Reference string
	// ModField is the field flipped to express on/off.
	ModField string
	// DataAttribute is the snapshot field read for the displayed state.
	DataAttribute string
	// Invert flips DataAttribute, for fields that read true when "off".
	Invert bool
	// Identity selects the target resolution strategy.
	Identity Identity
	// Port enables the managed-elsewhere check, the virtual-interface
	// reference fallback and the PoE-out follow-up write.
	Port bool
}

// Validate checks that the descriptor can drive a write.
func (d Descriptor) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("descriptor: type is required")
	}
	if d.Collection == "" || d.Path == "" {
		return fmt.Errorf("descriptor %s: collection and path are required", d.Type)
	}
	if d.Identity == nil {
		return fmt.Errorf("descriptor %s: identity strategy is required", d.Type)
	}
	if d.DataAttribute == "" {
		return fmt.Errorf("descriptor %s: data attribute is required", d.Type)
	}
	switch id := d.Identity.(type) {
	case CommandBased:
		if id.On == "" || id.Off == "" {
			return fmt.Errorf("descriptor %s: both commands are required", d.Type)
		}
		if d.Reference == "" {
			return fmt.Errorf("descriptor %s: reference is required", d.Type)
		}
	case DirectReference:
		if d.Reference == "" || d.ModField == "" {
			return fmt.Errorf("descriptor %s: reference and mod field are required", d.Type)
		}
	default:
		if d.ModField == "" {
			return fmt.Errorf("descriptor %s: mod field is required", d.Type)
		}
	}
	return nil
}

// Strategy names the identity strategy for display and logs.
func (d Descriptor) Strategy() string {
	if d.Identity == nil {
		return ""
	}
	return d.Identity.identity()
}
