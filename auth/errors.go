package auth

import xm "github.com/linusyang/pjabberd/xmpp"

const saslNS = "urn:ietf:params:xml:ns:xmpp-sasl"

// Error is a SASL failure condition, written inside <failure/> on the
// urn:ietf:params:xml:ns:xmpp-sasl namespace per RFC 3920 §6.4.
type Error struct {
	Condition string
}

func (e *Error) Error() string { return "auth: sasl " + e.Condition }

// ElementFailure wraps the condition in the <failure/> element a SASL
// failure response sends back to the client.
func (e *Error) ElementFailure() *xm.Element {
	failure := xm.NewElementNamespace("failure", saslNS)
	failure.AppendElement(xm.NewElementNamespace(e.Condition, saslNS))
	return failure
}

// The SASL failure conditions this server can raise.
var (
	ErrIncorrectEncoding = &Error{Condition: "incorrect-encoding"}
	ErrInvalidAuthzid    = &Error{Condition: "invalid-authzid"}
	ErrInvalidMechanism  = &Error{Condition: "invalid-mechanism"}
	ErrMechanismTooWeak  = &Error{Condition: "mechanism-too-weak"}
	ErrNotAuthorized     = &Error{Condition: "not-authorized"}
	ErrTemporaryFailure  = &Error{Condition: "temporary-auth-failure"}
)

// IQAuthError is raised by the legacy jabber:iq:auth mechanisms on a bad
// username/password/digest; handler/iqauth.go turns it into a canned
// <iq type='error'/> reply rather than a SASL <failure/>.
type IQAuthError struct{ Reason string }

func (e *IQAuthError) Error() string { return "auth: iq-auth failed: " + e.Reason }
