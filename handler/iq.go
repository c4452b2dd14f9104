package handler

import (
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/roster"
	xm "github.com/linusyang/pjabberd/xmpp"
)

const nsRoster = "jabber:iq:roster"

// IQBind handles <iq type='set'><bind/></iq>: the client's optionally
// requested resource id is honored if free; if it collides with one
// already bound, a short random suffix is appended to make it unique
// rather than rejecting the bind; an empty request generates one outright,
// mirroring IQBindHandler.
func IQBind(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}

		resource := ""
		if bindEl := req.Elements().ChildNamespace("bind", nsBind); bindEl != nil {
			if r := bindEl.Elements().Child("resource"); r != nil {
				resource = r.Text()
			}
		}
		if resource == "" {
			resource = shortID(6)
		} else if existing := d.Resources.Lookup(c.State.JID, resource); len(existing) > 0 {
			// requested resource is taken: keep it but make it unique by
			// appending a short random suffix, rather than rejecting the bind.
			resource += shortID(6)
		}

		c.State.Resource = resource
		d.Resources.Bind(c.State.JID, resource, c)

		bind := xm.NewElementNamespace("bind", nsBind)
		jidEl := xm.NewElementName("jid")
		jidEl.SetText(c.State.JID + "/" + resource)
		bind.AppendElement(jidEl)

		result := req.ResultIQ()
		result.Element.AppendElement(bind)
		return dispatch.Outcome{Value: result.Element}
	}
}

// IQSession handles <iq type='set'><session/></iq>, the trivial
// session-establishment acknowledgement, matching IQSessionHandler.
func IQSession(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}
		c.State.InSession = true
		return dispatch.Outcome{Value: req.ResultIQ().Element}
	}
}

func rosterItemElement(jidStr, name string, sub roster.Subscription, groups []string) *xm.Element {
	item := xm.NewElementName("item")
	item.SetAttribute("jid", jidStr)
	if name != "" {
		item.SetAttribute("name", name)
	}
	item.SetAttribute("subscription", sub.PrimaryName())
	if sub.HasAskPending() {
		item.SetAttribute("ask", "subscribe")
	}
	for _, g := range groups {
		ge := xm.NewElementName("group")
		ge.SetText(g)
		item.AppendElement(ge)
	}
	return item
}

// IQRosterGet loads the requester's roster and replies with it, matching
// IQRosterGetHandler. Threaded: the roster store hits the database.
func IQRosterGet(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}
		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				return runIQRosterGet(d, c, req)
			}, resume)
		}}
	}
}

func runIQRosterGet(d *Deps, c *conn.Connection, req *xm.IQ) (interface{}, error) {
	items, err := d.Roster.LoadRoster(c.State.JID)
	if err != nil {
		return errorIQFor(req, xm.ErrInternalServerError), nil
	}
	query := xm.NewElementNamespace("query", nsRoster)
	for _, it := range items {
		query.AppendElement(rosterItemElement(it.JID, it.Name, it.Subscription, it.Groups))
	}
	c.State.RequestedRoster = true

	result := req.ResultIQ()
	result.Element.AppendElement(query)
	return result.Element, nil
}

// rosterUpdateResult carries both the push payload (nil if the update
// failed) and the acknowledgement due back to the requester, threaded from
// IQRosterUpdate through to RosterPush via the Message chain.
type rosterUpdateResult struct {
	push *xm.Element
	ack  *xm.Element
}

// IQRosterUpdate adds, updates, or (via subscription='remove') deletes a
// roster entry, then schedules a roster-push to every resource of the
// requester that has asked for its roster (the requesting one included),
// matching IQRosterUpdateHandler.
func IQRosterUpdate(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}
		query := req.Elements().ChildNamespace("query", nsRoster)
		var itemEl *xm.Element
		if query != nil {
			itemEl = query.Elements().Child("item")
		}
		if itemEl == nil {
			return dispatch.Outcome{Value: errorIQFor(req, xm.ErrBadRequest)}
		}

		m.SetNextHandler("roster-push", "")

		contactJID := itemEl.Attributes().Get("jid")
		name := itemEl.Attributes().Get("name")
		removing := itemEl.Attributes().Get("subscription") == "remove"
		var groups []string
		for _, g := range itemEl.Elements().All() {
			if g.Name() == "group" {
				groups = append(groups, g.Text())
			}
		}

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				return runIQRosterUpdate(d, c, req, contactJID, name, groups, removing)
			}, resume)
		}}
	}
}

func runIQRosterUpdate(d *Deps, c *conn.Connection, req *xm.IQ, contactJID, name string, groups []string, removing bool) (interface{}, error) {
	userJID := c.State.JID

	if removing {
		if _, err := d.Roster.RemoveContact(userJID, contactJID); err != nil {
			return &rosterUpdateResult{ack: errorIQFor(req, xm.ErrInternalServerError)}, nil
		}
		pushItem := xm.NewElementName("item")
		pushItem.SetAttribute("jid", contactJID)
		pushItem.SetAttribute("subscription", "remove")
		return &rosterUpdateResult{push: pushItem, ack: req.ResultIQ().Element}, nil
	}

	if _, err := d.Roster.UpdateContact(userJID, contactJID, name, groups); err != nil {
		return &rosterUpdateResult{ack: errorIQFor(req, xm.ErrInternalServerError)}, nil
	}
	info, ok, err := d.Roster.GetContactInfo(userJID, contactJID)
	if err != nil || !ok {
		return &rosterUpdateResult{ack: errorIQFor(req, xm.ErrInternalServerError)}, nil
	}
	return &rosterUpdateResult{
		push: rosterItemElement(info.JID, info.Name, info.Subscription, info.Groups),
		ack:  req.ResultIQ().Element,
	}, nil
}

// RosterPush delivers the updated/removed roster item to every live
// resource of the requester (the requesting one included) that has
// previously asked for its roster, then
// acknowledges the original request, matching RosterPushHandler.
func RosterPush(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		res, ok := m.LastValue().(*rosterUpdateResult)
		if !ok {
			return dispatch.Outcome{}
		}
		if res.push == nil {
			return dispatch.Outcome{Value: res.ack}
		}

		c := connOf(m)
		pushRosterItemToResources(d, c.State.JID, res.push)
		return dispatch.Outcome{Value: res.ack}
	}
}

// pushRosterItemToResources delivers a roster push for item to every live
// resource of bareJID that has previously requested its roster, the
// common tail of both IQRosterUpdate's own push and a subscription state
// change's push, matching the iteration RosterPushHandler performs over
// pjs/server.py's data['resources'][jid].
func pushRosterItemToResources(d *Deps, bareJID string, item *xm.Element) {
	if item == nil {
		return
	}
	for _, target := range d.Resources.Lookup(bareJID, "") {
		if !target.State.RequestedRoster {
			continue
		}
		push := xm.NewElementName("iq")
		push.SetAttribute("type", "set")
		push.SetAttribute("id", shortID(10))
		push.SetAttribute("to", bareJID+"/"+target.State.Resource)
		query := xm.NewElementNamespace("query", nsRoster)
		query.AppendElement(item)
		push.AppendElement(query)
		target.Send(target.ID, push.String())
	}
}

// IQNotImplemented wraps the request in a service-unavailable error,
// matching IQNotImplementedHandler.
func IQNotImplemented(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}
		return dispatch.Outcome{Value: errorIQFor(req, xm.ErrServiceUnavailable)}
	}
}
