package xmpp

import (
	"github.com/pkg/errors"

	"github.com/linusyang/pjabberd/jid"
)

// ErrNoID is returned by NewIQFromElement when an <iq/> without an 'id'
// attribute is used to build a result or error reply, which RFC 6120 §8.2.3
// forbids.
var ErrNoID = errors.New("xmpp: stanza has no id")

// Stanza is satisfied by IQ, Message and Presence: the three top-level
// elements the dispatcher and router operate on.
type Stanza interface {
	XElement

	ToJID() *jid.JID
	FromJID() *jid.JID

	SetToJID(j *jid.JID)
	SetFromJID(j *jid.JID)
}

type stanzaBase struct {
	*Element
	to   *jid.JID
	from *jid.JID
}

func newStanzaBase(e *Element) stanzaBase {
	sb := stanzaBase{Element: e}
	if to := e.To(); to != "" {
		if j, err := jid.Parse(to); err == nil {
			sb.to = j
		}
	}
	if from := e.From(); from != "" {
		if j, err := jid.Parse(from); err == nil {
			sb.from = j
		}
	}
	return sb
}

func (s *stanzaBase) ToJID() *jid.JID   { return s.to }
func (s *stanzaBase) FromJID() *jid.JID { return s.from }

func (s *stanzaBase) SetToJID(j *jid.JID) {
	s.to = j
	if j != nil {
		s.SetAttribute("to", j.String())
	}
}

func (s *stanzaBase) SetFromJID(j *jid.JID) {
	s.from = j
	if j != nil {
		s.SetAttribute("from", j.String())
	}
}

// IQ wraps an <iq/> stanza. NewIQFromElement checks that it has an id and
// one of the four iq types (get/set/result/error); its payload is not
// checked.
type IQ struct{ stanzaBase }

const (
	// IQ 'type' attribute values.
	GetType    = "get"
	SetType    = "set"
	ResultType = "result"
	ErrorType  = "error"

	// Message 'type' attribute values.
	NormalType      = "normal"
	ChatType        = "chat"
	GroupChatType   = "groupchat"
	HeadlineType    = "headline"
	MessageErrorType = "error"

	// Presence 'type' attribute values.
	SubscribeType    = "subscribe"
	SubscribedType   = "subscribed"
	UnsubscribeType  = "unsubscribe"
	UnsubscribedType = "unsubscribed"
	UnavailableType  = "unavailable"
	ProbeType        = "probe"
	PresenceErrorType = "error"
)

// NewIQFromElement wraps e as an IQ, validating the required attributes.
func NewIQFromElement(e *Element) (*IQ, error) {
	if e.Name() != "iq" {
		return nil, errors.Errorf("xmpp: element is not <iq/>: %s", e.Name())
	}
	if e.ID() == "" {
		return nil, ErrNoID
	}
	switch e.Type() {
	case GetType, SetType, ResultType, ErrorType:
	default:
		return nil, errors.Errorf("xmpp: invalid iq type: %q", e.Type())
	}
	return &IQ{newStanzaBase(e)}, nil
}

// IsGet reports whether the IQ is a get-request.
func (iq *IQ) IsGet() bool { return iq.Type() == GetType }

// IsSet reports whether the IQ is a set-request.
func (iq *IQ) IsSet() bool { return iq.Type() == SetType }

// IsResult reports whether the IQ is a result.
func (iq *IQ) IsResult() bool { return iq.Type() == ResultType }

// ResultIQ builds the <iq type='result'/> reply to iq, with no payload.
func (iq *IQ) ResultIQ() *IQ {
	r := NewElementName("iq")
	r.SetAttribute("id", iq.ID())
	r.SetAttribute("type", ResultType)
	if iq.FromJID() != nil {
		r.SetAttribute("to", iq.FromJID().String())
	}
	result, _ := NewIQFromElement(r)
	return result
}

// ErrorIQ builds the <iq type='error'/> reply to iq carrying stanzaErr,
// including the original payload as required by RFC 6120 §8.3.1.
func (iq *IQ) ErrorIQ(stanzaErr *StanzaError) *IQ {
	r := iq.Element.Copy()
	r.SetAttribute("type", ErrorType)
	if iq.FromJID() != nil {
		r.SetAttribute("to", iq.FromJID().String())
	}
	delete(r.attributes, "from")
	r.AppendElement(stanzaErr.Element())
	result, _ := NewIQFromElement(r)
	return result
}

// Message wraps a <message/> stanza.
type Message struct{ stanzaBase }

// NewMessageFromElement wraps e as a Message.
func NewMessageFromElement(e *Element) (*Message, error) {
	if e.Name() != "message" {
		return nil, errors.Errorf("xmpp: element is not <message/>: %s", e.Name())
	}
	return &Message{newStanzaBase(e)}, nil
}

// IsGroupChat reports whether this is a groupchat-typed message.
func (m *Message) IsGroupChat() bool { return m.Type() == GroupChatType }

// Presence wraps a <presence/> stanza.
type Presence struct{ stanzaBase }

// NewPresenceFromElement wraps e as a Presence.
func NewPresenceFromElement(e *Element) (*Presence, error) {
	if e.Name() != "presence" {
		return nil, errors.Errorf("xmpp: element is not <presence/>: %s", e.Name())
	}
	return &Presence{newStanzaBase(e)}, nil
}

// IsAvailable reports whether this is an available-presence stanza: no
// 'type' attribute, or type='normal'.
func (p *Presence) IsAvailable() bool {
	switch p.Type() {
	case "", NormalType:
		return true
	}
	return false
}

// IsUnavailable reports whether this is type='unavailable'.
func (p *Presence) IsUnavailable() bool { return p.Type() == UnavailableType }

// IsSubscribe reports whether this is type='subscribe'.
func (p *Presence) IsSubscribe() bool { return p.Type() == SubscribeType }

// IsSubscribed reports whether this is type='subscribed'.
func (p *Presence) IsSubscribed() bool { return p.Type() == SubscribedType }

// IsUnsubscribe reports whether this is type='unsubscribe'.
func (p *Presence) IsUnsubscribe() bool { return p.Type() == UnsubscribeType }

// IsUnsubscribed reports whether this is type='unsubscribed'.
func (p *Presence) IsUnsubscribed() bool { return p.Type() == UnsubscribedType }

// IsProbe reports whether this is type='probe'.
func (p *Presence) IsProbe() bool { return p.Type() == ProbeType }
