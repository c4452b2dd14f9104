package handler

import (
	"strings"

	"github.com/linusyang/pjabberd/auth"
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	xm "github.com/linusyang/pjabberd/xmpp"
)

func saslState(c *conn.Connection) auth.SASLState {
	return auth.SASLState{
		InProgress: c.State.SASLInProgress,
		Complete:   c.State.SASLComplete,
		HasMechObj: c.State.SASLPlain != nil || c.State.SASLDigest != nil,
	}
}

func saslSuccessElement() *xm.Element {
	return xm.NewElementNamespace("success", nsSASL)
}

func saslChallengeElement(data []byte) *xm.Element {
	el := xm.NewElementNamespace("challenge", nsSASL)
	el.SetText(string(data))
	return el
}

// SASLAuth handles the initial <auth mechanism='.../> element, mirroring
// pjs/handlers/sasl.py's SASLAuthHandler: a threaded handler (here,
// submitted to the worker pool so a slow credential lookup never blocks
// the connection's actor loop) that branches on the requested mechanism.
func SASLAuth(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		el := element(m)

		if v := auth.CheckPolicyViolation(saslState(c)); v != nil {
			m.AddTextOutput(v.XML())
			m.AddTextOutput("</stream:stream>")
			c.Close()
			m.StopChain()
			return dispatch.Outcome{}
		}

		mechanism := el.Attributes().Get("mechanism")
		text := el.Text()

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				return runSASLAuth(d, c, mechanism, text)
			}, resume)
		}}
	}
}

func runSASLAuth(d *Deps, c *conn.Connection, mechanism, text string) (interface{}, error) {
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		mech := &auth.PlainMechanism{Store: d.Creds, Hostname: d.Hostname}
		c.State.SASLPlain = mech
		c.State.SASLInProgress = true
		out, err := mech.Handle(text)
		if err != nil {
			return nil, err
		}
		c.State.SASLComplete = true
		c.State.JID = out.JID
		return saslSuccessElement(), nil
	case "DIGEST-MD5":
		mech := &auth.DigestMD5Mechanism{Store: d.Creds, Hostname: d.Hostname}
		c.State.SASLDigest = mech
		c.State.SASLInProgress = true
		c.State.SASLDigestRound = 1
		return saslChallengeElement(mech.InitialChallenge()), nil
	default:
		return nil, auth.ErrInvalidMechanism
	}
}

// SASLResponse handles a <response/> during an in-progress DIGEST-MD5
// exchange, re-invoking the mechanism object stashed on the connection by
// SASLAuth, matching SASLResponseHandler.
func SASLResponse(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		c := connOf(m)
		el := element(m)

		if c.State.SASLDigest == nil {
			return dispatch.Outcome{Err: auth.ErrNotAuthorized}
		}
		text := el.Text()
		round := c.State.SASLDigestRound

		return dispatch.Outcome{Async: func(resume func(value interface{}, err error)) {
			d.Pool.Submit(func() (interface{}, error) {
				return runSASLResponse(c, round, text)
			}, resume)
		}}
	}
}

func runSASLResponse(c *conn.Connection, round int, text string) (interface{}, error) {
	switch round {
	case 1:
		challenge2, err := c.State.SASLDigest.HandleResponse(text)
		if err != nil {
			return nil, err
		}
		c.State.SASLDigestRound = 2
		return saslChallengeElement(challenge2), nil
	case 2:
		out, err := c.State.SASLDigest.HandleFinalResponse()
		if err != nil {
			return nil, err
		}
		c.State.SASLComplete = true
		c.State.JID = out.JID
		return saslSuccessElement(), nil
	default:
		return nil, auth.ErrNotAuthorized
	}
}

// SASLError converts a failed SASL step's error into the <failure/>
// element the paired "write" handler serializes, matching
// SASLErrorHandler.
func SASLError(d *Deps) dispatch.HandlerFunc {
	return func(m *dispatch.Message) dispatch.Outcome {
		if authErr, ok := m.LastValue().(*auth.Error); ok {
			return dispatch.Outcome{Value: authErr.ElementFailure()}
		}
		return dispatch.Outcome{Value: auth.ErrNotAuthorized.ElementFailure()}
	}
}
