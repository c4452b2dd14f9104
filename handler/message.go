package handler

import (
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/jid"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// C2SMessage stamps the sender's full JID onto an outgoing <message/> and
// hands it to the router, matching C2SMessageHandler. This phase has no
// trailing "write": routing is the entire effect, there's no reply to the
// sender.
func C2SMessage(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		full := c.State.JID
		if c.State.Resource != "" {
			full += "/" + c.State.Resource
		}
		stamped := conn.StampFrom(element(m), full)
		d.Router.Route(stamped, "")
		return dispatch.Outcome{}
	}
}

// errorMessageReply builds the <message type='error'/> bounce sent back to
// the sender when the addressee can't be delivered to.
func errorMessageReply(original *xm.Element, stanzaErr *xm.StanzaError) *xm.Element {
	reply := original.Copy()
	reply.SetAttribute("type", "error")
	to := original.From()
	from := original.To()
	reply.SetAttribute("to", to)
	reply.SetAttribute("from", from)
	reply.AppendElement(stanzaErr.Element())
	return reply
}

// S2SMessage validates an inbound server-to-server <message/> before
// routing it to a local resource: the recipient's domain must be ours, the
// account must exist, and a resource must actually be online — otherwise
// a service-unavailable bounce goes back over the same link. Threaded
// (account existence is a database hit), matching S2SMessageHandler.
func S2SMessage(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		el := element(m)
		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				runS2SMessage(d, c, el)
				return nil, nil
			}, resume)
		}}
	}
}

func runS2SMessage(d *Deps, c *conn.Connection, el *xm.Element) {
	fromAttr, toAttr := el.From(), el.To()
	if fromAttr == "" || toAttr == "" {
		return
	}
	fromJID, err1 := jid.Parse(fromAttr)
	toJID, err2 := jid.Parse(toAttr)
	if err1 != nil || err2 != nil || toJID.Domain() != d.Hostname {
		return
	}

	if !toJID.Exists(d.Roster) {
		d.Router.Route(errorMessageReply(el, xm.ErrServiceUnavailable), "")
		return
	}
	if len(d.Resources.Lookup(toJID.Bare().String(), toJID.Resource())) == 0 {
		d.Router.Route(errorMessageReply(el, xm.ErrServiceUnavailable), "")
		return
	}
	d.Router.Route(el, "")
}
