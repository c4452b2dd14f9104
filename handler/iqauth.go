package handler

import (
	"github.com/linusyang/pjabberd/auth"
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	xm "github.com/linusyang/pjabberd/xmpp"
)

const nsIQAuth = "jabber:iq:auth"

// errorIQFor builds the <iq type='error'/> reply to req carrying
// stanzaErr, mirroring pjs/handlers/auth.py's four canned builders
// (makeNotAcceptable/makeNotAuthorized/makeConflict's shared shape).
func errorIQFor(req *xm.IQ, stanzaErr *xm.StanzaError) *xm.Element {
	return req.ErrorIQ(stanzaErr).Element
}

// iqAuthErrorElement builds the <not-authorized/> error IQ for a failed
// credential check (unknown account, bad password/digest). Resource
// collisions on this path no longer error: see runIQAuthSet.
func iqAuthErrorElement(req *xm.IQ, err error) *xm.Element {
	return errorIQFor(req, xm.ErrNotAuthorized)
}

// IQAuthGet answers a jabber:iq:auth get with the canned field-advertising
// template, matching IQAuthGetHandler.
func IQAuthGet(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		if v := auth.CheckPolicyViolation(saslState(c)); v != nil {
			m.AddTextOutput(v.XML())
			m.AddTextOutput("</stream:stream>")
			c.Close()
			m.StopChain()
			return dispatch.Outcome{}
		}

		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}

		query := xm.NewElementNamespace("query", nsIQAuth)
		query.AppendElement(xm.NewElementName("username"))
		query.AppendElement(xm.NewElementName("digest"))
		query.AppendElement(xm.NewElementName("resource"))

		result := req.ResultIQ()
		result.Element.AppendElement(query)
		return dispatch.Outcome{Value: result.Element}
	}
}

// IQAuthSet verifies the submitted credentials (plaintext password or
// SHA-1 stream digest), binds the requested resource on success, and
// replies with either an empty <iq type='result'/> or the appropriate
// legacy error — matching IQAuthSetHandler. This phase has no paired
// error handler, so failures are returned as the handler's own value
// (an error <iq/>) rather than as Outcome.Err.
func IQAuthSet(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		if v := auth.CheckPolicyViolation(saslState(c)); v != nil {
			m.AddTextOutput(v.XML())
			m.AddTextOutput("</stream:stream>")
			c.Close()
			m.StopChain()
			return dispatch.Outcome{}
		}

		req, err := xm.NewIQFromElement(element(m))
		if err != nil {
			return dispatch.Outcome{}
		}
		query := req.Elements().ChildNamespace("query", nsIQAuth)
		username, resource, digest, password := "", "", "", ""
		if query != nil {
			if el := query.Elements().Child("username"); el != nil {
				username = el.Text()
			}
			if el := query.Elements().Child("resource"); el != nil {
				resource = el.Text()
			}
			if el := query.Elements().Child("digest"); el != nil {
				digest = el.Text()
			}
			if el := query.Elements().Child("password"); el != nil {
				password = el.Text()
			}
		}

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				return runIQAuthSet(d, c, req, username, resource, digest, password)
			}, resume)
		}}
	}
}

func runIQAuthSet(d *Deps, c *conn.Connection, req *xm.IQ, username, resource, digest, password string) (interface{}, error) {
	var bareJID string
	var err error
	if digest != "" {
		mech := &auth.IQAuthDigest{Store: d.Creds, Hostname: d.Hostname, StreamID: c.State.StreamID}
		bareJID, err = mech.Handle(username, digest)
	} else {
		mech := &auth.IQAuthPlain{Store: d.Creds, Hostname: d.Hostname}
		bareJID, err = mech.Handle(username, password)
	}
	if err != nil {
		return iqAuthErrorElement(req, err), nil
	}

	if resource == "" {
		resource = shortID(6)
	} else if existing := d.Resources.Lookup(bareJID, resource); len(existing) > 0 {
		// requested resource is taken: make it unique with a short random
		// suffix instead of rejecting the bind, matching IQBind.
		resource += shortID(6)
	}

	c.State.JID = bareJID
	c.State.Resource = resource
	d.Resources.Bind(bareJID, resource, c)

	return req.ResultIQ().Element, nil
}
