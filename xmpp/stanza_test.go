package xmpp

import "testing"

func newTestIQ(t *testing.T, typ, id string) *IQ {
	t.Helper()
	e := NewElementNamespace("iq", "jabber:client")
	e.SetAttribute("type", typ)
	e.SetAttribute("id", id)
	e.SetAttribute("from", "bob@localhost/home")
	e.SetAttribute("to", "localhost")
	iq, err := NewIQFromElement(e)
	if err != nil {
		t.Fatalf("NewIQFromElement: %v", err)
	}
	return iq
}

func TestNewIQFromElementRequiresID(t *testing.T) {
	e := NewElementNamespace("iq", "jabber:client")
	e.SetAttribute("type", GetType)
	if _, err := NewIQFromElement(e); err != ErrNoID {
		t.Fatalf("expected ErrNoID, got %v", err)
	}
}

func TestNewIQFromElementRejectsBadType(t *testing.T) {
	e := NewElementNamespace("iq", "jabber:client")
	e.SetAttribute("id", "1")
	e.SetAttribute("type", "bogus")
	if _, err := NewIQFromElement(e); err == nil {
		t.Fatalf("expected error for invalid iq type")
	}
}

func TestIQJIDAccessors(t *testing.T) {
	iq := newTestIQ(t, GetType, "1")
	if iq.FromJID() == nil || iq.FromJID().String() != "bob@localhost/home" {
		t.Fatalf("FromJID() = %v", iq.FromJID())
	}
	if iq.ToJID() == nil || iq.ToJID().String() != "localhost" {
		t.Fatalf("ToJID() = %v", iq.ToJID())
	}
}

func TestResultIQ(t *testing.T) {
	iq := newTestIQ(t, SetType, "42")
	result := iq.ResultIQ()
	if result.Type() != ResultType || result.ID() != "42" {
		t.Fatalf("ResultIQ() = %+v", result)
	}
	if result.To() != "bob@localhost/home" {
		t.Fatalf("ResultIQ() To() = %q", result.To())
	}
}

func TestErrorIQCarriesOriginalPayload(t *testing.T) {
	iq := newTestIQ(t, GetType, "7")
	query := NewElementNamespace("query", "jabber:iq:roster")
	iq.AppendElement(query)

	errIQ := iq.ErrorIQ(ErrServiceUnavailable)
	if errIQ.Type() != ErrorType {
		t.Fatalf("expected type=error, got %q", errIQ.Type())
	}
	if errIQ.From() != "" {
		t.Fatalf("expected no 'from' on error reply, got %q", errIQ.From())
	}
	if errIQ.Elements().Child("query") == nil {
		t.Fatalf("expected original <query/> payload to be echoed back")
	}
	if errIQ.Elements().Child("error") == nil {
		t.Fatalf("expected <error/> element")
	}
}

func TestPresenceTypePredicates(t *testing.T) {
	cases := []struct {
		typ   string
		check func(*Presence) bool
	}{
		{"", (*Presence).IsAvailable},
		{UnavailableType, (*Presence).IsUnavailable},
		{SubscribeType, (*Presence).IsSubscribe},
		{SubscribedType, (*Presence).IsSubscribed},
		{UnsubscribeType, (*Presence).IsUnsubscribe},
		{UnsubscribedType, (*Presence).IsUnsubscribed},
		{ProbeType, (*Presence).IsProbe},
	}
	for _, c := range cases {
		e := NewElementNamespace("presence", "jabber:client")
		if c.typ != "" {
			e.SetAttribute("type", c.typ)
		}
		p, err := NewPresenceFromElement(e)
		if err != nil {
			t.Fatalf("NewPresenceFromElement: %v", err)
		}
		if !c.check(p) {
			t.Fatalf("type %q: predicate returned false", c.typ)
		}
	}
}

func TestNewMessageFromElementRejectsWrongTag(t *testing.T) {
	e := NewElementName("iq")
	if _, err := NewMessageFromElement(e); err == nil {
		t.Fatalf("expected error wrapping <iq/> as a message")
	}
}
