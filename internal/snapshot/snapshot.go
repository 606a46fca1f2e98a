// Package snapshot holds the point-in-time view of the router's
// configuration collections that every toggle reads from.
//
// A Snapshot is built once by the refresh coordinator and never mutated
// afterwards; a refresh publishes a new Snapshot instead of editing the
// previous one, so readers need no locking.
package snapshot

import (
	"sort"
	"strings"
	"time"
)

// Well-known record fields.
const (
	FieldID       = ".id"
	FieldUniqueID = "uniq-id"
	FieldName     = "name"
	FieldDisabled = "disabled"
	FieldEnabled  = "enabled"
)

// Record is one configuration object: field name to RouterOS string value.
// Records handed out by a Snapshot are shared and must be treated as read-only.
type Record map[string]string

// Get returns the field value, or "" when absent.
func (r Record) Get(field string) string {
	if r == nil {
		return ""
	}
	return r[field]
}

// Lookup returns the field value and whether it was present.
func (r Record) Lookup(field string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r[field]
	return v, ok
}

// Bool interprets a field the way RouterOS prints booleans.
func (r Record) Bool(field string) bool {
	return ParseBool(r.Get(field))
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Collection maps an internal object id to its record.
type Collection map[string]Record

// IDs returns the collection's ids in sorted order.
func (c Collection) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Data is what a fetch from the device returns, before it is sealed
// into a Snapshot.
type Data struct {
	Collections map[string]Collection
	Access      []string
}

// Snapshot is an immutable view of all fetched collections.
type Snapshot struct {
	seq         uint64
	taken       time.Time
	collections map[string]Collection
	access      []string
}

// New builds a Snapshot, deep-copying the inputs so later changes to
// them cannot leak into the published view.
func New(seq uint64, taken time.Time, collections map[string]Collection, access []string) *Snapshot {
	s := &Snapshot{
		seq:         seq,
		taken:       taken,
		collections: make(map[string]Collection, len(collections)),
		access:      append([]string(nil), access...),
	}
	for name, coll := range collections {
		copied := make(Collection, len(coll))
		for id, rec := range coll {
			copied[id] = rec.Clone()
		}
		s.collections[name] = copied
	}
	return s
}

// Empty returns a snapshot with no collections and no access rights.
func Empty() *Snapshot {
	return New(0, time.Time{}, nil, nil)
}

// Seq is the refresh sequence number that produced this snapshot.
func (s *Snapshot) Seq() uint64 { return s.seq }

// Taken is when the snapshot was fetched.
func (s *Snapshot) Taken() time.Time { return s.taken }

// Collection returns the named collection, or nil.
func (s *Snapshot) Collection(name string) Collection {
	if s == nil {
		return nil
	}
	return s.collections[name]
}

// Record returns a single record by collection and id.
func (s *Snapshot) Record(collection, id string) (Record, bool) {
	rec, ok := s.Collection(collection)[id]
	return rec, ok
}

// CollectionNames returns the names of all collections, sorted.
func (s *Snapshot) CollectionNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Access returns a copy of the session's access capabilities.
func (s *Snapshot) Access() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.access...)
}

// HasAccess reports whether the named capability is present.
func (s *Snapshot) HasAccess(capability string) bool {
	if s == nil {
		return false
	}
	for _, a := range s.access {
		if a == capability {
			return true
		}
	}
	return false
}

// ParseBool interprets RouterOS boolean spellings. Anything else is false.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true
	}
	return false
}

// FormatBool renders a boolean the way RouterOS expects it on writes.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
