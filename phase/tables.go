package phase

const (
	nsStream   = "http://etherx.jabber.org/streams"
	nsSASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind     = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession  = "urn:ietf:params:xml:ns:xmpp-session"
	nsIQAuth   = "jabber:iq:auth"
	nsRoster   = "jabber:iq:roster"
	nsDiscoI   = "http://jabber.org/protocol/disco#items"
	nsDiscoN   = "http://jabber.org/protocol/disco#info"
	nsClient   = "jabber:client"
	nsServer   = "jabber:server"
)

// Core builds the core (non-stanza) phase table: stream lifecycle and SASL
// negotiation, matching pjs/conf/phases.py's _corePhases.
func Core() *Table {
	return NewTable([]Entry{
		{Name: "default", Description: "default phase for when no other matches"},
		{Name: "in-stream-init", Description: "initializes stream data and sends out features",
			Handlers: []string{"in-stream-init", "features-init", "write"}},
		{Name: "in-stream-reinit", Description: "new stream where one already exists",
			Handlers: []string{"in-stream-reinit"}},
		{Name: "out-stream-init", Description: "handling reply to our initial s2s stream",
			Handlers: []string{"out-stream-init", "write"}},
		{Name: "stream-end", Description: "stream ended by the other side",
			Handlers: []string{"stream-end", "cleanup-conn"}},
		{Name: "close-stream", Description: "we actively close the stream"},
		{Name: "features", Description: "stream features such as TLS and resource binding",
			Match: Name("features", nsStream)},
		{Name: "sasl-auth", Description: "SASL's <auth>",
			Match:         Name("auth", nsSASL),
			Handlers:      []string{"sasl-auth", "write"},
			ErrorHandlers: []string{"sasl-error"}},
		{Name: "sasl-response", Description: "SASL client's response to challenge",
			Match:         Name("response", nsSASL),
			Handlers:      []string{"sasl-response", "write"},
			ErrorHandlers: []string{"sasl-error"}},
		{Name: "sasl-abort", Description: "initiating entity aborts auth",
			Match:         Name("abort", nsSASL),
			ErrorHandlers: []string{"sasl-error"}},
	})
}

// C2SStanza builds the client-to-server stanza phase table, matching
// pjs/conf/phases.py's _c2sStanzaPhases.
func C2SStanza() *Table {
	iq := func() Matcher { return Name("iq", nsClient) }
	return NewTable([]Entry{
		{Name: "default", Description: "default phase for when no other matches"},
		{Name: "iq-auth-get", Description: "responds to iq-auth get",
			Match:    WithChild(WithType(iq(), "get"), "query", nsIQAuth),
			Handlers: []string{"iq-auth-get", "write"}},
		{Name: "iq-auth-set", Description: "responds to iq-auth set",
			Match:    WithChild(WithType(iq(), "set"), "query", nsIQAuth),
			Handlers: []string{"iq-auth-set", "write"}},
		{Name: "iq-bind", Description: "client binding a resource",
			Match:    WithChild(WithType(iq(), "set"), "bind", nsBind),
			Handlers: []string{"iq-bind", "write"}},
		{Name: "iq-session", Description: "client binding a session",
			Match:    WithChild(WithType(iq(), "set"), "session", nsSession),
			Handlers: []string{"iq-session", "write"}},
		{Name: "iq-roster-get", Description: "client requesting their roster",
			Match:    WithChild(WithType(iq(), "get"), "query", nsRoster),
			Handlers: []string{"iq-roster-get", "write"}},
		{Name: "iq-roster-update", Description: "client adding or updating their roster",
			Match:    WithChild(WithType(iq(), "set"), "query", nsRoster),
			Handlers: []string{"iq-roster-update", "write"}},
		{Name: "iq-disco-items", Description: "discovery",
			Match:    WithChild(WithType(iq(), "get"), "query", nsDiscoI),
			Handlers: []string{"iq-not-implemented", "write"}},
		{Name: "iq-disco-info", Description: "server info",
			Match:    WithChild(WithType(iq(), "get"), "query", nsDiscoN),
			Handlers: []string{"iq-not-implemented", "write"}},
		{Name: "message", Description: "incoming message stanza",
			Match:    Name("message", nsClient),
			Handlers: []string{"c2s-message"}},
		{Name: "c2s-presence", Description: "incoming presence stanza from client",
			Match:    Name("presence", nsClient),
			Handlers: []string{"c2s-presence", "write"}},
		{Name: "c2s-presence-unavailable", Description: "incoming unavailable presence stanza from client",
			Match:    WithType(Name("presence", nsClient), "unavailable"),
			Handlers: []string{"c2s-presence"},
			Priority: 1},
		{Name: "subscription", Description: "subscription handling",
			Match:    HasTypeAttr(Name("presence", nsClient)),
			Handlers: []string{"c2s-subscription"},
			Priority: 1},
		{Name: "unknown-iq", Description: "unknown iq stanza",
			Match:    iq(),
			Handlers: []string{"iq-not-implemented", "write"},
			Priority: -1},
	})
}

// S2SStanza builds the server-to-server stanza phase table, matching
// pjs/conf/phases.py's _s2sStanzaPhases.
func S2SStanza() *Table {
	return NewTable([]Entry{
		{Name: "default", Description: "default phase for when no other matches"},
		{Name: "subscription", Description: "subscription handling",
			Match:    HasTypeAttr(Name("presence", nsServer)),
			Handlers: []string{"s2s-subscription"},
			Priority: 1},
		{Name: "s2s-presence", Description: "incoming presence from server",
			Match:    Name("presence", nsServer),
			Handlers: []string{"s2s-presence", "write"}},
		{Name: "s2s-presence-unavailable", Description: "incoming unavailable presence from server",
			Match:    WithType(Name("presence", nsServer), "unavailable"),
			Handlers: []string{"s2s-presence", "write"},
			Priority: 2},
		{Name: "s2s-presence-probe", Description: "incoming <presence type='probe'/> from other servers",
			Match:    WithType(Name("presence", nsServer), "probe"),
			Handlers: []string{"s2s-probe"},
			Priority: 2},
		{Name: "message", Description: "<message>",
			Match:    Name("message", nsServer),
			Handlers: []string{"s2s-message"}},
	})
}
