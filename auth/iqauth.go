package auth

import (
	"crypto/sha1"
	"encoding/hex"
)

// IQAuthPlain handles the legacy jabber:iq:auth plaintext mechanism.
type IQAuthPlain struct {
	Store    CredentialStore
	Hostname string
}

// Handle verifies username/password and returns the now-authenticated bare
// JID on success.
func (m *IQAuthPlain) Handle(username, password string) (jid string, err error) {
	bareJID := username + "@" + m.Hostname
	stored, ok, err := m.Store.Password(bareJID)
	if err != nil {
		return "", &IQAuthError{Reason: "lookup failed"}
	}
	if !ok || stored != password {
		return "", &IQAuthError{Reason: "bad username or password"}
	}
	return bareJID, nil
}

// IQAuthDigest handles the legacy jabber:iq:auth SHA-1 digest mechanism:
// digest = SHA1(streamID + password), per the original's implementation
// (not an XEP — this predates SASL entirely).
type IQAuthDigest struct {
	Store    CredentialStore
	Hostname string
	StreamID string
}

// Handle verifies username/digest and returns the now-authenticated bare
// JID on success.
func (m *IQAuthDigest) Handle(username, digest string) (jid string, err error) {
	bareJID := username + "@" + m.Hostname
	password, ok, err := m.Store.Password(bareJID)
	if err != nil {
		return "", &IQAuthError{Reason: "lookup failed"}
	}
	if !ok {
		return "", &IQAuthError{Reason: "no such account"}
	}
	sum := sha1.Sum([]byte(m.StreamID + password))
	if hex.EncodeToString(sum[:]) != digest {
		return "", &IQAuthError{Reason: "digest mismatch"}
	}
	return bareJID, nil
}
