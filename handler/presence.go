package handler

import (
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/jid"
	"github.com/linusyang/pjabberd/roster"
	xm "github.com/linusyang/pjabberd/xmpp"
)

const nsServerWire = "jabber:server"

// C2SPresence broadcasts a plain (non-subscription-typed) presence update
// from a local client to every contact entitled to see it and to the
// user's own other resources, matching the no-type branch of
// pjs/handlers/presence.py's PresenceHandler. On a presence with no 'to'
// and no 'type' it additionally marks the resource active and records the
// stanza as the resource's last-presence for later S2S probe replies, and
// on the first such presence (while the resource is not yet active) it
// probes every contact the user is subscribed to; on type='unavailable' it
// clears active. Threaded: the subscriber list and
// probe targets come from the roster store.
func C2SPresence(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		el := element(m)
		bareJID := c.State.JID
		full := bareJID
		if c.State.Resource != "" {
			full += "/" + c.State.Resource
		}
		stamped := conn.StampFrom(el, full)
		initial := el.Type() == "" && el.To() == ""
		unavailable := el.Type() == "unavailable"

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				switch {
				case initial:
					if !c.State.Active {
						probeSubscribedTo(d, bareJID, full)
					}
					c.State.Active = true
					c.State.LastPresence = stamped
				case unavailable:
					c.State.Active = false
				}

				subs, err := d.Roster.GetPresenceSubscribers(bareJID)
				if err == nil {
					for _, sub := range subs {
						d.Router.Route(stamped, sub)
					}
				}
				for _, other := range d.Resources.Lookup(bareJID, "") {
					if other.ID == c.ID {
						continue
					}
					other.Send(other.ID, stamped.String())
				}
				return nil, nil
			}, resume)
		}}
	}
}

// probeSubscribedTo sends a <presence type='probe'/> from full to every
// contact bareJID is subscribed to (TO/BOTH/TO+PENDING-IN), the
// initial-presence side effect in §4.6.
func probeSubscribedTo(d *Deps, bareJID, full string) {
	targets, err := d.Roster.GetSubscribedTo(bareJID)
	if err != nil {
		return
	}
	for _, target := range targets {
		probe := xm.NewElementNamespace("presence", nsServerWire)
		probe.SetAttribute("type", "probe")
		probe.SetAttribute("to", target)
		probe.SetAttribute("from", full)
		d.Router.Route(probe, "")
	}
}

// S2SPresence delivers an inbound available/unavailable presence from a
// remote server straight to the addressed local resource(s).
func S2SPresence(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		d.Router.Route(element(m), "")
		return dispatch.Outcome{}
	}
}

// subscriptionTransition applies the roster.Subscription automaton
// transition for a locally sent subscription-typed presence.
func subscriptionTransition(current roster.Subscription, presenceType string) (roster.Subscription, bool) {
	switch presenceType {
	case xm.SubscribeType:
		return current.OnSendSubscribe(), true
	case xm.SubscribedType:
		return current.OnSendSubscribed(), true
	case xm.UnsubscribeType:
		return current.OnSendUnsubscribe(), true
	case xm.UnsubscribedType:
		return current.OnSendUnsubscribed(), true
	default:
		return current, false
	}
}

// receivedSubscriptionTransition applies the mirror-image transition for a
// subscription-typed presence received from a remote contact.
func receivedSubscriptionTransition(current roster.Subscription, presenceType string) (roster.Subscription, bool) {
	switch presenceType {
	case xm.SubscribeType:
		return current.OnReceiveSubscribe(), true
	case xm.SubscribedType:
		return current.OnReceiveSubscribed(), true
	case xm.UnsubscribeType:
		return current.OnReceiveUnsubscribe(), true
	case xm.UnsubscribedType:
		return current.OnReceiveUnsubscribed(), true
	default:
		return current, false
	}
}

// C2SSubscription advances the roster subscription automaton for a local
// client's <presence type='subscribe|subscribed|unsubscribe|unsubscribed'/>
// and forwards the stanza to the contact, matching
// pjs/handlers/presence.py's SubscriptionHandler (generalized here to all
// four transitions the automaton supports, not just 'subscribe').
func C2SSubscription(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		el := element(m)
		contactJID := el.To()
		if contactJID == "" {
			return dispatch.Outcome{}
		}
		userJID := c.State.JID
		presenceType := el.Type()
		full := userJID
		if c.State.Resource != "" {
			full += "/" + c.State.Resource
		}
		stamped := conn.StampFrom(el, full)

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				applyLocalSubscriptionChange(d, userJID, contactJID, presenceType)
				d.Router.Route(stamped, contactJID)
				return nil, nil
			}, resume)
		}}
	}
}

func applyLocalSubscriptionChange(d *Deps, userJID, contactJID, presenceType string) {
	info, ok, err := d.Roster.GetContactInfo(userJID, contactJID)
	if err != nil {
		return
	}
	current := roster.SubNone
	if ok {
		current = info.Subscription
	}
	next, handled := subscriptionTransition(current, presenceType)
	if !handled {
		return
	}
	if !ok {
		// RFC 3921 8.2 bullet 4: subscribing to a contact not yet on the
		// roster creates the entry first.
		if _, err := d.Roster.UpdateContact(userJID, contactJID, "", nil); err != nil {
			return
		}
	}
	info, ok, err = d.Roster.GetContactInfo(userJID, contactJID)
	if err != nil || !ok {
		return
	}
	if err := d.Roster.SetSubscription(userJID, info.ID, next); err != nil {
		return
	}
	pushRosterItemToResources(d, userJID, rosterItemElement(contactJID, info.Name, next, info.Groups))
}

// S2SSubscription is the server-to-server mirror of C2SSubscription: an
// incoming subscription-typed presence from a remote contact advances the
// local user's roster state and the stanza is handed to the user's live
// resources.
func S2SSubscription(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		el := element(m)
		toAttr, fromAttr := el.To(), el.From()
		if toAttr == "" || fromAttr == "" {
			return dispatch.Outcome{}
		}
		toJID, err := jid.Parse(toAttr)
		if err != nil || toJID.Domain() != d.Hostname {
			return dispatch.Outcome{}
		}
		contactJID, err := jid.Parse(fromAttr)
		if err != nil {
			return dispatch.Outcome{}
		}
		userJID := toJID.Bare().String()
		contactBare := contactJID.Bare().String()
		presenceType := el.Type()

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				applyReceivedSubscriptionChange(d, userJID, contactBare, presenceType)
				d.Router.Route(el, userJID)
				return nil, nil
			}, resume)
		}}
	}
}

func applyReceivedSubscriptionChange(d *Deps, userJID, contactJID, presenceType string) {
	info, ok, err := d.Roster.GetContactInfo(userJID, contactJID)
	if err != nil {
		return
	}
	current := roster.SubNone
	if ok {
		current = info.Subscription
	}
	next, handled := receivedSubscriptionTransition(current, presenceType)
	if !handled {
		return
	}
	if !ok {
		if _, err := d.Roster.UpdateContact(userJID, contactJID, "", nil); err != nil {
			return
		}
	}
	info, ok, err = d.Roster.GetContactInfo(userJID, contactJID)
	if err != nil || !ok {
		return
	}
	if err := d.Roster.SetSubscription(userJID, info.ID, next); err != nil {
		return
	}
	pushRosterItemToResources(d, userJID, rosterItemElement(contactJID, info.Name, next, info.Groups))
}

// S2SProbe answers a remote server's <presence type='probe'/> with the
// probed user's current availability on every live resource, or
// 'unavailable' if the prober isn't entitled to see it or the user is
// offline, matching RFC 3921 §5.1.3's probe-response rules (the original
// leaves NewS2SConnHandler's probe handling to the generic route, this
// server answers it directly).
func S2SProbe(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		el := element(m)
		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				runS2SProbe(d, el)
				return nil, nil
			}, resume)
		}}
	}
}

func runS2SProbe(d *Deps, el *xm.Element) {
	toAttr, fromAttr := el.To(), el.From()
	if toAttr == "" || fromAttr == "" {
		return
	}
	toJID, err := jid.Parse(toAttr)
	if err != nil || toJID.Domain() != d.Hostname {
		return
	}
	contactJID, err := jid.Parse(fromAttr)
	if err != nil {
		return
	}
	userJID := toJID.Bare().String()
	contactBare := contactJID.Bare().String()

	info, ok, err := d.Roster.GetContactInfo(userJID, contactBare)
	entitled := err == nil && ok && (info.Subscription == roster.SubFrom ||
		info.Subscription == roster.SubFromPendingOut || info.Subscription == roster.SubBoth)

	resources := d.Resources.Lookup(userJID, "")
	if !entitled || len(resources) == 0 {
		reply := xm.NewElementNamespace("presence", nsServerWire)
		reply.SetAttribute("type", "unavailable")
		reply.SetAttribute("to", fromAttr)
		reply.SetAttribute("from", userJID)
		d.Router.Route(reply, "")
		return
	}
	for _, r := range resources {
		reply := probeReplyFor(r.State.LastPresence)
		reply.SetAttribute("to", fromAttr)
		reply.SetAttribute("from", userJID+"/"+r.State.Resource)
		d.Router.Route(reply, "")
	}
}

// probeReplyFor copies last (the probed resource's recorded last-presence)
// for use as a probe reply, or builds a bare available presence if the
// resource never recorded one.
func probeReplyFor(last *xm.Element) *xm.Element {
	if last == nil {
		return xm.NewElementNamespace("presence", nsServerWire)
	}
	cp := last.Copy()
	cp.SetNamespace(nsServerWire)
	return cp
}
