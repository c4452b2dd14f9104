// Package xmpp implements the element tree used to represent stanza
// subtrees once the streaming parser (see package parser) has finished
// building one, plus the serializer used to write them back out.
package xmpp

import (
	"sort"
	"strings"
)

// defaultNamespaces are the stream default namespaces whose xmlns
// declaration must never be written out explicitly on a per-element basis;
// the stock ElementTree-style "nsN:" prefixing scheme is incompatible with
// XMPP clients, so this package's serializer strips these two namespaces
// and writes every other one as an explicit xmlns attribute instead.
var defaultNamespaces = map[string]bool{
	"jabber:client": true,
	"jabber:server": true,
}

// XElement is the read-only view of an element tree node that handlers and
// the router operate on.
type XElement interface {
	Name() string
	Namespace() string
	Attributes() AttributeSet
	Elements() ElementSet
	Text() string

	To() string
	From() string
	ID() string
	Type() string
	Version() string

	ToXML(sb *strings.Builder, includeClosing bool)
	String() string
}

// Element is the concrete, mutable XElement implementation built by the
// parser and by handlers constructing replies.
type Element struct {
	name       string
	namespace  string
	attributes map[string]string
	attrOrder  []string
	children   []*Element
	text       string
}

// NewElementName creates an empty element with the given (possibly
// "{ns}local") tag name.
func NewElementName(name string) *Element {
	ns, local := splitName(name)
	return &Element{name: local, namespace: ns, attributes: map[string]string{}}
}

// NewElementNamespace creates an empty element with an explicit namespace.
func NewElementNamespace(name, namespace string) *Element {
	e := NewElementName(name)
	e.namespace = namespace
	return e
}

func splitName(name string) (ns, local string) {
	if strings.HasPrefix(name, "{") {
		if i := strings.IndexByte(name, '}'); i > 0 {
			return name[1:i], name[i+1:]
		}
	}
	return "", name
}

// Name returns the local tag name (without namespace).
func (e *Element) Name() string { return e.name }

// Namespace returns the element's namespace, which may be "".
func (e *Element) Namespace() string { return e.namespace }

// SetNamespace sets the element's namespace.
func (e *Element) SetNamespace(ns string) { e.namespace = ns }

// SetAttribute sets (or replaces) an attribute.
func (e *Element) SetAttribute(name, value string) {
	if _, ok := e.attributes[name]; !ok {
		e.attrOrder = append(e.attrOrder, name)
	}
	e.attributes[name] = value
}

// SetText sets the element's direct text content.
func (e *Element) SetText(text string) { e.text = text }

// Text returns the element's direct text content.
func (e *Element) Text() string { return e.text }

// AppendElement appends a single child.
func (e *Element) AppendElement(child *Element) { e.children = append(e.children, child) }

// AppendElements appends a batch of children.
func (e *Element) AppendElements(children []*Element) {
	e.children = append(e.children, children...)
}

// Len returns the number of direct children.
func (e *Element) Len() int { return len(e.children) }

// At returns the i'th direct child, or nil if out of range. This matches
// jackal's convention of treating a wrapped stanza tree's tree[0] as "the
// stanza itself".
func (e *Element) At(i int) *Element {
	if i < 0 || i >= len(e.children) {
		return nil
	}
	return e.children[i]
}

// Attributes returns the attribute-accessor view of this element.
func (e *Element) Attributes() AttributeSet { return AttributeSet{e} }

// Elements returns the children-accessor view of this element.
func (e *Element) Elements() ElementSet { return ElementSet{e} }

// To/From/ID/Type/Version are convenience accessors for the attributes XMPP
// stanzas use most often.
func (e *Element) To() string      { return e.attributes["to"] }
func (e *Element) From() string    { return e.attributes["from"] }
func (e *Element) ID() string      { return e.attributes["id"] }
func (e *Element) Type() string    { return e.attributes["type"] }
func (e *Element) Version() string { return e.attributes["version"] }

// AttributeSet is a thin view over Element's attribute map.
type AttributeSet struct{ e *Element }

// Get returns the named attribute's value, or "" if absent.
func (a AttributeSet) Get(name string) string { return a.e.attributes[name] }

// Has reports whether the named attribute is present.
func (a AttributeSet) Has(name string) bool {
	_, ok := a.e.attributes[name]
	return ok
}

// ElementSet is a thin view over Element's children.
type ElementSet struct{ e *Element }

// All returns every direct child.
func (s ElementSet) All() []*Element { return s.e.children }

// Child returns the first direct child with the given local name, in any
// namespace, or nil.
func (s ElementSet) Child(name string) *Element {
	for _, c := range s.e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// ChildNamespace returns the first direct child matching both name and
// namespace, or nil.
func (s ElementSet) ChildNamespace(name, namespace string) *Element {
	for _, c := range s.e.children {
		if c.name == name && c.namespace == namespace {
			return c
		}
	}
	return nil
}

// ChildrenNamespace returns every direct child in the given namespace.
func (s ElementSet) ChildrenNamespace(namespace string) []*Element {
	var out []*Element
	for _, c := range s.e.children {
		if c.namespace == namespace {
			out = append(out, c)
		}
	}
	return out
}

// Copy returns a deep copy of e, used wherever a stanza is stamped (e.g.
// 'from' added) without mutating the tree other handlers still hold.
func (e *Element) Copy() *Element {
	cp := &Element{
		name:      e.name,
		namespace: e.namespace,
		text:      e.text,
	}
	cp.attributes = make(map[string]string, len(e.attributes))
	for k, v := range e.attributes {
		cp.attributes[k] = v
	}
	cp.attrOrder = append([]string(nil), e.attrOrder...)
	for _, c := range e.children {
		cp.children = append(cp.children, c.Copy())
	}
	return cp
}

// String renders the element via ToXML.
func (e *Element) String() string {
	var sb strings.Builder
	e.ToXML(&sb, true)
	return sb.String()
}

// ToXML writes e and its subtree. The default stream namespaces
// (jabber:client, jabber:server) are never written as an explicit xmlns
// attribute — per §4.7, only non-default namespaces get one. If
// includeClosing is false and there are no children and no text, a
// self-closing tag is still emitted (XML always requires a terminator).
func (e *Element) ToXML(sb *strings.Builder, includeClosing bool) {
	sb.WriteByte('<')
	sb.WriteString(e.name)

	if e.namespace != "" && !defaultNamespaces[e.namespace] {
		sb.WriteString(` xmlns='`)
		sb.WriteString(escapeAttr(e.namespace))
		sb.WriteByte('\'')
	}
	for _, k := range e.attrOrder {
		if k == "xmlns" {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(k)
		sb.WriteString("='")
		sb.WriteString(escapeAttr(e.attributes[k]))
		sb.WriteByte('\'')
	}

	if len(e.children) == 0 && e.text == "" {
		sb.WriteString("/>")
		return
	}
	sb.WriteByte('>')
	if e.text != "" {
		sb.WriteString(escapeText(e.text))
	}
	for _, c := range e.children {
		c.ToXML(sb, true)
	}
	if includeClosing {
		sb.WriteString("</")
		sb.WriteString(e.name)
		sb.WriteByte('>')
	}
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", "'", "&apos;", `"`, "&quot;")
	return r.Replace(s)
}

// sortedKeys returns m's keys in sorted order; no code or test in this
// module calls it.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
