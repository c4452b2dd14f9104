package auth

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// base64Alphabet rejects any character outside RFC 3920 §14.9's base64
// alphabet and any padding that doesn't occur only at the very end, which
// guards against using padding as a covert channel.
var base64Alphabet = regexp.MustCompile(`^[0-9A-Za-z+/]*={0,2}$`)

func fromBase64(s string) ([]byte, error) {
	if !base64Alphabet.MatchString(s) {
		return nil, ErrIncorrectEncoding
	}
	return base64.StdEncoding.DecodeString(s)
}

func toBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// PlainMechanism implements SASL PLAIN (RFC 4616): a single round trip
// carrying "authzid\x00authcid\x00password" base64-encoded in the initial
// response.
type PlainMechanism struct {
	Store    CredentialStore
	Hostname string
}

// Handle verifies b64text (the initial-response payload, which may be
// empty for a bare <auth/> with no initial response — RFC 3920 §6.4
// allows the server to challenge with an empty challenge in that case,
// but this server requires an initial response, matching the original's
// handling of the auth=b64text case).
func (m *PlainMechanism) Handle(b64text string) (*Outcome, error) {
	if b64text == "" {
		return nil, ErrIncorrectEncoding
	}
	raw, err := fromBase64(b64text)
	if err != nil {
		return nil, ErrIncorrectEncoding
	}
	parts := strings.Split(string(raw), "\x00")
	if len(parts) != 3 {
		return nil, ErrIncorrectEncoding
	}
	authcid, password := parts[1], parts[2]

	bareJID := authcid + "@" + m.Hostname
	stored, ok, err := m.Store.Password(bareJID)
	if err != nil {
		return nil, ErrTemporaryFailure
	}
	if !ok || stored != password {
		return nil, ErrNotAuthorized
	}
	return &Outcome{Complete: true, JID: bareJID}, nil
}
