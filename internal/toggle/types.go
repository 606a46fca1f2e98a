package toggle

import (
	"sort"

	"grimm.is/toggled/internal/match"
)

// Built-in entity types, keyed by type name.
var builtinTypes = map[string]Descriptor{
	"interface": {
		Type:          "interface",
		Collection:    "interface",
		Path:          "/interface",
		Reference:     "default-name",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      DirectReference{},
		Port:          true,
	},
	"nat": {
		Type:          "nat",
		Collection:    "nat",
		Path:          "/ip/firewall/nat",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      CompositeKey{Signature: match.NAT},
	},
	"mangle": {
		Type:          "mangle",
		Collection:    "mangle",
		Path:          "/ip/firewall/mangle",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      CompositeKey{Signature: match.Mangle},
	},
	"filter": {
		Type:          "filter",
		Collection:    "filter",
		Path:          "/ip/firewall/filter",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      CompositeKey{Signature: match.Filter},
	},
	"ppp_secret": {
		Type:          "ppp_secret",
		Collection:    "ppp_secret",
		Path:          "/ppp/secret",
		Reference:     "name",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      DirectReference{},
	},
	"queue": {
		Type:          "queue",
		Collection:    "queue",
		Path:          "/queue/simple",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      NameKey{},
	},
	"kidcontrol_enable": {
		Type:          "kidcontrol_enable",
		Collection:    "kid-control",
		Path:          "/ip/kid-control",
		Reference:     "name",
		ModField:      "disabled",
		DataAttribute: "enabled",
		Identity:      DirectReference{},
	},
	"kidcontrol_pause": {
		Type:          "kidcontrol_pause",
		Collection:    "kid-control",
		Path:          "/ip/kid-control",
		Reference:     "name",
		DataAttribute: "paused",
		Invert:        true,
		Identity:      CommandBased{On: "resume", Off: "pause"},
	},
}

// LookupType returns the built-in descriptor for a type name.
func LookupType(name string) (Descriptor, bool) {
	d, ok := builtinTypes[name]
	return d, ok
}

// TypeNames returns all built-in type names, sorted.
func TypeNames() []string {
	names := make([]string, 0, len(builtinTypes))
	for name := range builtinTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
