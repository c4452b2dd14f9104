// Package jid implements the XMPP address (JID) value type: node@domain/resource.
package jid

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

// ErrInvalidJID is returned when a string cannot be parsed as a JID.
var ErrInvalidJID = errors.New("jid: invalid JID")

// JID models node@domain/resource per RFC 3920 §3. It is immutable once
// constructed; equality is 3-tuple equality over (node, domain, resource).
type JID struct {
	node     string
	domain   string
	resource string
}

// New builds a JID from its parts directly, normalizing the domain label.
// domain must be non-empty.
func New(node, domain, resource string) (*JID, error) {
	if domain == "" {
		return nil, errors.Wrap(ErrInvalidJID, "empty domain")
	}
	normDomain, err := normalizeDomain(domain)
	if err != nil {
		return nil, errors.Wrap(err, "jid: bad domain")
	}
	return &JID{node: node, domain: normDomain, resource: resource}, nil
}

// Parse parses s as ((node@)?domain(/resource)?) following the
// implementation note in RFC 7622 §3.1: split on the separators before any
// normalization is applied, so a normalization step can never manufacture a
// stray '@' or '/'.
func Parse(s string) (*JID, error) {
	if s == "" {
		return nil, errors.Wrap(ErrInvalidJID, "empty string")
	}

	rest := s
	var resource string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		resource = rest[i+1:]
		rest = rest[:i]
		if resource == "" {
			return nil, errors.Wrap(ErrInvalidJID, "empty resource after '/'")
		}
	}

	var node string
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		node = rest[:i]
		rest = rest[i+1:]
		if node == "" {
			return nil, errors.Wrap(ErrInvalidJID, "empty node before '@'")
		}
	}
	domain := rest
	if domain == "" {
		return nil, errors.Wrap(ErrInvalidJID, "empty domain")
	}

	return New(node, domain, resource)
}

// normalizeDomain lower-cases and validates the domain label set using IDNA,
// trimming a single trailing dot (ignored per RFC 1034/7622 §3.2).
func normalizeDomain(domain string) (string, error) {
	domain = strings.TrimSuffix(domain, ".")
	// Plain IP literals and "localhost"-style hostnames used in tests and
	// internal deployments don't round-trip through IDNA; only normalize
	// when the label set looks like a DNS hostname containing non-ASCII or
	// uppercase runes, mirroring idna's own "already valid" fast path.
	if isASCIILower(domain) {
		return domain, nil
	}
	out, err := idna.Lookup.ToUnicode(domain)
	if err != nil {
		// Fall back to a simple lower-case fold: many internal domains
		// (e.g. "localhost", single-label test hosts) are not valid IDNA
		// but are still perfectly good XMPP domains.
		return strings.ToLower(domain), nil
	}
	return strings.ToLower(out), nil
}

func isASCIILower(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			return false
		}
		if c > unicode127 {
			return false
		}
	}
	return true
}

const unicode127 = 0x7f

// Node returns the node (local) part, or "" if absent.
func (j *JID) Node() string { return j.node }

// Domain returns the domain part.
func (j *JID) Domain() string { return j.domain }

// Resource returns the resource part, or "" if absent.
func (j *JID) Resource() string { return j.resource }

// IsBare reports whether the JID has no resource.
func (j *JID) IsBare() bool { return j.resource == "" }

// IsFullWithUser reports whether the JID has both a node and a resource.
func (j *JID) IsFullWithUser() bool { return j.node != "" && j.resource != "" }

// IsServer reports whether the JID has no node part (a bare server JID).
func (j *JID) IsServer() bool { return j.node == "" }

// Bare returns the bare form (node@domain, no resource) of the JID.
func (j *JID) Bare() *JID {
	return &JID{node: j.node, domain: j.domain}
}

// String formats the JID as node@domain/resource, omitting absent parts.
func (j *JID) String() string {
	var b strings.Builder
	if j.node != "" {
		b.WriteString(j.node)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// Equal reports 3-tuple equality with other.
func (j *JID) Equal(other *JID) bool {
	if other == nil {
		return false
	}
	return j.node == other.node && j.domain == other.domain && j.resource == other.resource
}

// ExistenceChecker abstracts the persistent-store lookup used by Exists, so
// this package stays free of a storage dependency (the roster store
// implements it).
type ExistenceChecker interface {
	// JIDExists reports whether bareJID (node@domain) has a row in the jids
	// table with a non-empty password, i.e. is a real registered account.
	JIDExists(bareJID string) (bool, error)
}

// Exists reports whether this JID's bare form is a known account, per
// pjs/jid.py's JID.exists(). An error from the checker is treated as "does
// not exist"; the error itself is discarded.
func (j *JID) Exists(checker ExistenceChecker) bool {
	ok, err := checker.JIDExists(j.Bare().String())
	return err == nil && ok
}
