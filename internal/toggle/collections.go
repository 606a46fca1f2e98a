package toggle

import (
	"fmt"
	"sort"

	"grimm.is/toggled/internal/match"
	"grimm.is/toggled/internal/snapshot"
)

// CollectionSpec tells a transport which device path backs a snapshot
// collection and how to normalize the records it reads there.
type CollectionSpec struct {
	Name      string
	Path      string
	Signature *match.Signature
	Port      bool
}

// Normalize derives the fields toggles read but the device does not
// report directly. It runs on records the transport still owns.
func (c CollectionSpec) Normalize(rec snapshot.Record) {
	if _, ok := rec[snapshot.FieldEnabled]; !ok {
		rec[snapshot.FieldEnabled] = snapshot.FormatBool(!rec.Bool(snapshot.FieldDisabled))
	}
	if c.Port {
		derivePortFields(rec)
	}
	if c.Signature != nil {
		c.Signature.Stamp(rec)
	}
}

// CompanionPath is the menu a transport reads next to this collection for
// fields its own menu does not report, or "" when there is none. Ports
// take poe-out from /interface/ethernet.
func (c CollectionSpec) CompanionPath() string {
	if c.Port {
		return poePath
	}
	return ""
}

// Merge copies the companion fields onto the records of coll. Rows are
// paired by default-name; records that already carry a field keep it.
func (c CollectionSpec) Merge(coll snapshot.Collection, companion []snapshot.Record) {
	if !c.Port {
		return
	}
	mergeEthernet(coll, companion)
}

// Collections returns the specs needed to serve the named types, one per
// collection, sorted by collection name.
func Collections(typeNames []string) ([]CollectionSpec, error) {
	byName := make(map[string]CollectionSpec)
	for _, name := range typeNames {
		d, ok := LookupType(name)
		if !ok {
			return nil, fmt.Errorf("unknown entity type %q", name)
		}
		spec := CollectionSpec{Name: d.Collection, Path: d.Path, Port: d.Port}
		if ck, ok := d.Identity.(CompositeKey); ok {
			sig := ck.Signature
			spec.Signature = &sig
		}
		if prev, ok := byName[spec.Name]; ok && prev.Path != spec.Path {
			return nil, fmt.Errorf("collection %q served by both %s and %s", spec.Name, prev.Path, spec.Path)
		}
		byName[spec.Name] = spec
	}

	specs := make([]CollectionSpec, 0, len(byName))
	for _, spec := range byName {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}
