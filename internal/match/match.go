// Package match locates the single remote object a toggle controls.
//
// RouterOS firewall rules carry no stable user-facing name, so the
// device-side identity of a rule is a composite signature built from its
// match fields. The transport stamps every fetched record with that
// signature (the "uniq-id" field); a toggle rebuilds the same signature
// from its own record and scans the collection for it.
package match

import (
	"strings"

	"grimm.is/toggled/internal/snapshot"
)

// Missing identity fields read as the device's own default.
const defaultFieldValue = "any"

// Signature is an ordered list of fields joined by fixed delimiters.
type Signature struct {
	Rule   string
	fields []string
	delims []string
}

// NewSignature builds a signature from alternating field and delimiter
// tokens: field, delim, field, delim, ..., field.
func NewSignature(rule string, tokens ...string) Signature {
	s := Signature{Rule: rule}
	for i, tok := range tokens {
		if i%2 == 0 {
			s.fields = append(s.fields, tok)
		} else {
			s.delims = append(s.delims, tok)
		}
	}
	return s
}

// Fields returns the identity fields in key order.
func (s Signature) Fields() []string {
	return append([]string(nil), s.fields...)
}

// Key renders the composite key for rec.
func (s Signature) Key(rec snapshot.Record) string {
	var b strings.Builder
	for i, field := range s.fields {
		if i > 0 {
			b.WriteString(s.delims[i-1])
		}
		v, ok := rec.Lookup(field)
		if !ok || v == "" {
			v = defaultFieldValue
		}
		b.WriteString(v)
	}
	return b.String()
}

// Stamp writes the record's composite key into its uniq-id field.
// Only the transport calls this, while it still owns the record.
func (s Signature) Stamp(rec snapshot.Record) {
	rec[snapshot.FieldUniqueID] = s.Key(rec)
}

// Device-side uniqueness signatures per rule type.
var (
	NAT = NewSignature("nat",
		"chain", ",", "action", ",", "protocol", ",",
		"in-interface", ":", "dst-port", "-",
		"out-interface", ":", "to-addresses", ":", "to-ports")

	Mangle = NewSignature("mangle",
		"chain", ",", "action", ",", "protocol", ",",
		"src-address", ":", "src-port", "-",
		"dst-address", ":", "dst-port", ",",
		"src-address-list", "-", "dst-address-list")

	Filter = NewSignature("filter",
		"chain", ",", "action", ",", "protocol", ",", "layer7-protocol", ",",
		"in-interface", ",", "in-interface-list", ":",
		"src-address", ",", "src-address-list", ":", "src-port", "-",
		"out-interface", ",", "out-interface-list", ":",
		"dst-address", ",", "dst-address-list", ":", "dst-port")
)

// ForRule returns the signature for a rule type name.
func ForRule(rule string) (Signature, bool) {
	switch rule {
	case NAT.Rule:
		return NAT, true
	case Mangle.Rule:
		return Mangle, true
	case Filter.Rule:
		return Filter, true
	}
	return Signature{}, false
}

// Locate returns the id of the one record in collection whose uniq-id
// equals sig's key for current. Zero or several matches report false;
// callers treat both as "no target" without raising an error.
func Locate(snap *snapshot.Snapshot, collection string, sig Signature, current snapshot.Record) (string, bool) {
	key := sig.Key(current)
	return scan(snap.Collection(collection), func(rec snapshot.Record) bool {
		return rec.Get(snapshot.FieldUniqueID) == key
	})
}

// LocateByName is the single-field variant used for queues: the record
// whose name equals current's name.
func LocateByName(snap *snapshot.Snapshot, collection string, current snapshot.Record) (string, bool) {
	name := current.Get(snapshot.FieldName)
	return scan(snap.Collection(collection), func(rec snapshot.Record) bool {
		return rec.Get(snapshot.FieldName) == name
	})
}

func scan(coll snapshot.Collection, pred func(snapshot.Record) bool) (string, bool) {
	found := ""
	matches := 0
	for id, rec := range coll {
		if !pred(rec) {
			continue
		}
		matches++
		if matches > 1 {
			return "", false
		}
		found = id
		if v := rec.Get(snapshot.FieldID); v != "" {
			found = v
		}
	}
	return found, matches == 1
}
