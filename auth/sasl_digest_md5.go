package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pborman/uuid"
)

// DigestMD5 states, matching the original's INIT/SENT_CHALLENGE1/
// SENT_CHALLENGE2 progression.
const (
	digestInit = iota
	digestSentChallenge1
	digestSentChallenge2
)

// maxDigestFailures is the number of consecutive failures tolerated before
// the mechanism's state resets back to INIT, per the original's
// MAX_FAILURES=2.
const maxDigestFailures = 2

// DigestMD5Mechanism implements SASL DIGEST-MD5 (RFC 2831). A single
// instance is stateful across the two challenge/response round trips of a
// single auth attempt and must be kept alive (on the connection) between
// its InitialChallenge, HandleResponse and HandleFinalResponse calls.
type DigestMD5Mechanism struct {
	Store    CredentialStore
	Hostname string

	state    int
	nonce    string
	username string
	failures int
}

// InitialChallenge returns the first <challenge/> payload, computed
// without any client input.
func (m *DigestMD5Mechanism) InitialChallenge() []byte {
	m.nonce = uuid.New()
	m.state = digestSentChallenge1

	parts := []string{
		fmt.Sprintf(`realm="%s"`, m.Hostname),
		`qop="auth"`,
		fmt.Sprintf(`nonce="%s"`, m.nonce),
		"charset=utf-8",
		"algorithm=md5-sess",
	}
	return []byte(toBase64([]byte(strings.Join(parts, ","))))
}

// HandleResponse processes the client's response to the initial challenge
// (challenge 1) and, on success, returns challenge 2 (rspauth).
func (m *DigestMD5Mechanism) HandleResponse(b64text string) ([]byte, error) {
	if m.state != digestSentChallenge1 {
		m.handleFailure()
		return nil, ErrNotAuthorized
	}
	raw, err := fromBase64(b64text)
	if err != nil {
		return nil, ErrIncorrectEncoding
	}
	params, err := parseDigestParams(string(raw))
	if err != nil {
		m.handleFailure()
		return nil, ErrIncorrectEncoding
	}

	username, nonce, realm := params["username"], params["nonce"], params["realm"]
	cnonce, nc, qop := params["cnonce"], params["nc"], params["qop"]
	response, digestURI := params["response"], params["digest-uri"]

	if username == "" || nonce == "" || realm == "" || cnonce == "" || nc == "" ||
		qop == "" || response == "" || digestURI == "" {
		m.handleFailure()
		return nil, ErrNotAuthorized
	}

	ncVal, err := strconv.ParseInt(nc, 16, 64)
	if nonce != m.nonce || realm != m.Hostname || ncVal != 1 ||
		firstQOP(qop) != "auth" || err != nil {
		m.handleFailure()
		return nil, ErrNotAuthorized
	}
	m.username = username

	password, ok, err := m.Store.Password(username + "@" + m.Hostname)
	if err != nil {
		return nil, ErrTemporaryFailure
	}
	if !ok {
		m.handleFailure()
		return nil, ErrNotAuthorized
	}

	a1 := fmt.Sprintf("%s:%s:%s", hexStr(h(fmt.Sprintf("%s:%s:%s", username, realm, password))), nonce, cnonce)
	a2Client := "AUTHENTICATE:" + digestURI
	digest := hexStr(kd(hexStr(h(a1)), fmt.Sprintf("%s:%s:%s:%s:%s", nonce, nc, cnonce, "auth", hexStr(h(a2Client)))))

	if digest != response {
		m.handleFailure()
		return nil, ErrNotAuthorized
	}

	a2 := ":" + digestURI
	rspauth := hexStr(kd(hexStr(h(a1)), fmt.Sprintf("%s:%s:%s:%s:%s", nonce, nc, cnonce, "auth", hexStr(h(a2)))))
	m.state = digestSentChallenge2
	return []byte(toBase64([]byte("rspauth=" + rspauth))), nil
}

// HandleFinalResponse processes the client's empty <response/> that
// acknowledges challenge 2, and completes the handshake.
func (m *DigestMD5Mechanism) HandleFinalResponse() (*Outcome, error) {
	if m.state != digestSentChallenge2 {
		m.handleFailure()
		return nil, ErrNotAuthorized
	}
	m.state = digestInit
	return &Outcome{Complete: true, JID: m.username + "@" + m.Hostname}, nil
}

func (m *DigestMD5Mechanism) handleFailure() {
	m.failures++
	if m.failures > maxDigestFailures {
		m.failures = 0
		m.state = digestInit
	}
}

func firstQOP(qop string) string {
	return strings.TrimSpace(strings.Split(qop, ",")[0])
}

// h is H(s) from RFC 2831: the 16-octet MD5 hash of s.
func h(s string) []byte {
	sum := md5.Sum([]byte(s))
	return sum[:]
}

// hexStr is HEX(n): the lower-case hex encoding of n.
func hexStr(n []byte) string { return hex.EncodeToString(n) }

// kd is KD(k, s) = H(k + ":" + s).
func kd(k, s string) []byte { return h(k + ":" + s) }

// parseDigestParams parses the comma-separated name=value (or
// name="value") pairs of a DIGEST-MD5 response, respecting embedded commas
// inside quoted values (e.g. qop="auth,auth-int").
func parseDigestParams(s string) (map[string]string, error) {
	out := map[string]string{}
	cur := 0
	for cur < len(s) {
		eq := strings.IndexByte(s[cur:], '=')
		if eq <= 0 {
			return nil, ErrIncorrectEncoding
		}
		eq += cur
		name := strings.TrimSpace(s[cur:eq])
		valStart := eq + 1
		if valStart >= len(s) {
			return nil, ErrIncorrectEncoding
		}
		var value string
		if s[valStart] == '"' {
			end := strings.IndexByte(s[valStart+1:], '"')
			if end < 0 {
				return nil, ErrIncorrectEncoding
			}
			end += valStart + 1
			value = s[valStart+1 : end]
			next := strings.IndexByte(s[end:], ',')
			if next < 0 {
				cur = len(s)
			} else {
				cur = end + next + 1
			}
		} else {
			next := strings.IndexByte(s[valStart:], ',')
			if next < 0 {
				value = strings.TrimSpace(s[valStart:])
				cur = len(s)
			} else {
				value = strings.TrimSpace(s[valStart : valStart+next])
				cur = valStart + next + 1
			}
		}
		out[name] = value
	}
	return out, nil
}
