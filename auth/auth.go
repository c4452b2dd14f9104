// Package auth implements the SASL PLAIN and DIGEST-MD5 mechanisms and the
// legacy jabber:iq:auth plaintext/digest mechanisms the handler pipeline
// drives during stream authentication.
package auth

// CredentialStore abstracts the password lookup both SASL and iq-auth need.
// DIGEST-MD5 (RFC 2831) and the legacy SHA-1 iq-auth digest both require a
// retrievable plaintext password at auth time, not a stored hash, so the
// store's contract returns the password itself rather than verifying a
// candidate against a hash.
type CredentialStore interface {
	// Password returns the plaintext password for bareJID (node@domain),
	// and whether the account exists at all.
	Password(bareJID string) (password string, ok bool, err error)
}

// Outcome is returned by PlainMechanism.Handle and
// DigestMD5Mechanism.HandleFinalResponse once an exchange completes.
// DIGEST-MD5's challenges are returned as raw bytes by InitialChallenge and
// HandleResponse instead; no mechanism in this package sets Challenge.
type Outcome struct {
	// Challenge, if non-nil, is sent back to the client as the next
	// <challenge/>; the handshake isn't complete yet.
	Challenge []byte

	// Complete reports whether authentication succeeded and JID names the
	// now-authenticated bare JID.
	Complete bool
	JID      string
}
