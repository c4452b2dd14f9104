package handler

import (
	"strings"

	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/parser"
	xm "github.com/linusyang/pjabberd/xmpp"
)

const (
	nsStreamWire = "http://etherx.jabber.org/streams"
	nsSASL       = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind       = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession    = "urn:ietf:params:xml:ns:xmpp-session"
)

// openStreamTag renders the initial (unclosed) <stream:stream> tag, which
// xmpp.Element can't represent directly since it always closes its tags —
// mirrors pjs/handlers/stream.py building the open tag by hand rather than
// through the element tree.
func openStreamTag(ns, id, from string) string {
	var b strings.Builder
	b.WriteString("<stream:stream xmlns:stream='")
	b.WriteString(nsStreamWire)
	b.WriteString("' xmlns='")
	b.WriteString(ns)
	b.WriteString("' id='")
	b.WriteString(id)
	b.WriteString("' from='")
	b.WriteString(from)
	b.WriteString("' version='1.0'>")
	return b.String()
}

func streamNamespace(c *conn.Connection) string {
	if c.State.StreamType == "s2s" {
		return parser.NSServer
	}
	return parser.NSClient
}

// saslFeatures builds the <mechanisms> offer this server makes before
// authentication, matching pjs/handlers/stream.py's FeaturesInitHandler.
func saslFeatures() *xm.Element {
	features := xm.NewElementNamespace("features", nsStreamWire)
	mechanisms := xm.NewElementNamespace("mechanisms", nsSASL)
	for _, name := range []string{"DIGEST-MD5", "PLAIN"} {
		mech := xm.NewElementName("mechanism")
		mech.SetText(name)
		mechanisms.AppendElement(mech)
	}
	features.AppendElement(mechanisms)
	return features
}

// postAuthFeatures offers resource binding and session establishment, the
// feature set InStreamReInitHandler sends once SASL has completed.
func postAuthFeatures() *xm.Element {
	features := xm.NewElementNamespace("features", nsStreamWire)
	features.AppendElement(xm.NewElementNamespace("bind", nsBind))
	features.AppendElement(xm.NewElementNamespace("session", nsSession))
	return features
}

// InStreamInit opens the wire stream and hands off to FeaturesInit/Write
// to advertise SASL mechanisms, mirroring InStreamInitHandler.
func InStreamInit(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		id := shortID(10)
		c.State.StreamID = id
		m.AddTextOutput(openStreamTag(streamNamespace(c), id, d.Hostname))
		return dispatch.Outcome{}
	}
}

// FeaturesInit advertises SASL mechanisms on a freshly opened stream.
func FeaturesInit(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		if c.State.StreamType != "c2s" || c.State.SASLComplete {
			return dispatch.Outcome{Value: xm.NewElementNamespace("features", nsStreamWire)}
		}
		return dispatch.Outcome{Value: saslFeatures()}
	}
}

// InStreamReInit handles the in-place stream restart after TLS/SASL,
// emitting a new open tag and the appropriate next feature set directly
// (this phase's handler chain is a single entry, so there's no trailing
// "write" to hand a return value to), mirroring InStreamReInitHandler.
func InStreamReInit(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		id := shortID(10)
		c.State.StreamID = id
		m.AddTextOutput(openStreamTag(streamNamespace(c), id, d.Hostname))

		var features *xm.Element
		if c.State.StreamType == "c2s" && c.State.SASLComplete {
			features = postAuthFeatures()
		} else if c.State.StreamType == "c2s" {
			features = saslFeatures()
		} else {
			features = xm.NewElementNamespace("features", nsStreamWire)
		}
		m.AddTextOutput(features.String())
		return dispatch.Outcome{}
	}
}

// OutStreamInit handles the peer's reply stream on a connection we dialed
// out. The original flushes a queued-output buffer here; this server's
// router already flushes queued stanzas as soon as the TCP dial succeeds
// (see router.dialAndFlush), so there is nothing left to do by the time a
// reply stream header arrives.
func OutStreamInit(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		return dispatch.Outcome{}
	}
}

// StreamEnd is the first step of the stream-end phase and does nothing
// itself: conn's event handling has already cleared State.InStream before
// dispatching stream-end, and CleanupConn runs next in the chain.
func StreamEnd(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		return dispatch.Outcome{}
	}
}

// CleanupConn tears the connection down once its stream has ended:
// unbinding any resource it held and closing the socket after echoing the
// closing stream tag, mirroring the original's handle_close cleanup that
// StreamEndHandler's pair triggers.
func CleanupConn(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		if c.State.JID != "" && c.State.Resource != "" {
			d.Resources.Unbind(c.State.JID, c.State.Resource)
		}
		m.AddTextOutput("</stream:stream>")
		c.Close()
		return dispatch.Outcome{}
	}
}
