// Package phase implements the phase registry: each incoming stanza (or
// core stream element) is classified into a named "phase" by matching its
// shape against a prioritized table, and the phase names the ordered
// handler chain (and error-handler chain) that processes it.
package phase

import (
	"sort"

	xm "github.com/linusyang/pjabberd/xmpp"
)

// Matcher reports whether root (the top-level element of a parsed unit —
// a stanza, or the wrapped <stream:stream> for core phases) belongs to a
// phase. It stands in for the original's XPath expressions
// ("{ns}iq[@type='get']/{ns2}query"), which this implementation expresses
// as small composable predicates instead of a general XPath engine, since
// every phase's xpath in the table is one of a handful of shapes: a bare
// element name+namespace, that plus a type-attribute match, or that plus
// a namespaced child's presence.
type Matcher func(root *xm.Element) bool

// Name matches a bare element name in a namespace.
func Name(name, namespace string) Matcher {
	return func(root *xm.Element) bool {
		return root != nil && root.Name() == name && root.Namespace() == namespace
	}
}

// WithType further restricts a Matcher to elements whose 'type' attribute
// equals typ.
func WithType(m Matcher, typ string) Matcher {
	return func(root *xm.Element) bool {
		return m(root) && root.Type() == typ
	}
}

// HasTypeAttr further restricts a Matcher to elements that carry a 'type'
// attribute at all, regardless of its value.
func HasTypeAttr(m Matcher) Matcher {
	return func(root *xm.Element) bool {
		return m(root) && root.Attributes().Has("type")
	}
}

// WithChild further restricts a Matcher to elements with a direct child
// in the given name/namespace.
func WithChild(m Matcher, childName, childNamespace string) Matcher {
	return func(root *xm.Element) bool {
		return m(root) && root.Elements().ChildNamespace(childName, childNamespace) != nil
	}
}

// Entry is one row of a phase table.
type Entry struct {
	Name          string
	Description   string
	Match         Matcher // nil: never chosen by Classify's matching pass; reachable via Get (and the "default" entry is Classify's fallback)
	Handlers      []string
	ErrorHandlers []string
	Priority      int // higher runs first; ties break by table order
}

// Table is a phase registry: entries sorted by (-priority, insertion
// order), mirroring the original's PrioritizedDict iteration order so that
// more specific phases (higher priority) are tried before general ones.
type Table struct {
	entries []Entry
}

// NewTable builds a Table from entries, stable-sorting them by descending
// priority.
func NewTable(entries []Entry) *Table {
	t := &Table{entries: append([]Entry(nil), entries...)}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Priority > t.entries[j].Priority
	})
	return t
}

// Classify returns the first entry (in priority order) whose Match
// predicate accepts root, or the table's "default" entry if none match.
// It panics if the table has no "default" entry, since every table must
// define a fallback phase.
func (t *Table) Classify(root *xm.Element) Entry {
	for _, e := range t.entries {
		if e.Match != nil && e.Match(root) {
			return e
		}
	}
	for _, e := range t.entries {
		if e.Name == "default" {
			return e
		}
	}
	panic("phase: table has no default entry")
}

// Get looks up an entry by name, for handlers that jump directly to a
// named phase (e.g. msg.SetNextHandler-equivalent flows).
func (t *Table) Get(name string) (Entry, bool) {
	for _, e := range t.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
