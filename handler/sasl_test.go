package handler

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/linusyang/pjabberd/auth"
	"github.com/linusyang/pjabberd/dispatch"
	xm "github.com/linusyang/pjabberd/xmpp"
)

func plainInitialResponse(authcid, password string) string {
	raw := "\x00" + authcid + "\x00" + password
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func authElement(mechanism, text string) *xm.Element {
	el := xm.NewElementNamespace("auth", nsSASL)
	el.SetAttribute("mechanism", mechanism)
	el.SetText(text)
	return el
}

func TestSASLAuthPlainSuccess(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(authElement("PLAIN", plainInitialResponse("bob", "secret")), c)

	value, err := resolveAsync(t, SASLAuth(d)(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	el, ok := value.(*xm.Element)
	if !ok || el.Name() != "success" {
		t.Fatalf("expected <success/>, got %#v", value)
	}
	if !c.State.SASLComplete {
		t.Fatal("expected SASLComplete to be set")
	}
	if c.State.JID != "bob@localhost" {
		t.Fatalf("expected JID bob@localhost, got %q", c.State.JID)
	}
}

func TestSASLAuthPlainBadPassword(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(authElement("PLAIN", plainInitialResponse("bob", "wrong")), c)

	_, err := resolveAsync(t, SASLAuth(d)(m))
	if err != auth.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSASLAuthUnknownMechanism(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(authElement("GSSAPI", ""), c)

	_, err := resolveAsync(t, SASLAuth(d)(m))
	if err != auth.ErrInvalidMechanism {
		t.Fatalf("expected ErrInvalidMechanism, got %v", err)
	}
}

func TestSASLAuthDigestMD5StartsChallenge(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(authElement("DIGEST-MD5", ""), c)

	value, err := resolveAsync(t, SASLAuth(d)(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	el, ok := value.(*xm.Element)
	if !ok || el.Name() != "challenge" {
		t.Fatalf("expected <challenge/>, got %#v", value)
	}
	if c.State.SASLDigest == nil {
		t.Fatal("expected SASLDigest mechanism to be stashed on the connection")
	}
	if c.State.SASLDigestRound != 1 {
		t.Fatalf("expected round 1, got %d", c.State.SASLDigestRound)
	}
}

func TestSASLResponseWithoutMechanismIsNotAuthorized(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(xm.NewElementNamespace("response", nsSASL), c)

	out := SASLResponse(d)(m)
	if out.Err != auth.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized outcome, got %v", out.Err)
	}
}

func TestSASLResponseRejectsGarbageAtRound1(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	c.State.SASLDigest = &auth.DigestMD5Mechanism{Store: d.Creds, Hostname: d.Hostname}
	c.State.SASLDigest.InitialChallenge()
	c.State.SASLDigestRound = 1
	m := newMessage(xm.NewElementNamespace("response", nsSASL), c)
	m.Tree.(*xm.Element).SetText(base64.StdEncoding.EncodeToString([]byte("not-a-valid-digest")))

	_, err := resolveAsync(t, SASLResponse(d)(m))
	if err == nil {
		t.Fatal("expected an error for a malformed digest response")
	}
}

func TestSASLResponseUnknownRoundIsNotAuthorized(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	c.State.SASLDigest = &auth.DigestMD5Mechanism{Store: d.Creds, Hostname: d.Hostname}
	c.State.SASLDigestRound = 99
	m := newMessage(xm.NewElementNamespace("response", nsSASL), c)

	_, err := resolveAsync(t, SASLResponse(d)(m))
	if err != auth.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSASLErrorWrapsAuthError(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Set("fail", func(mm *dispatch.Message) dispatch.Outcome {
		return dispatch.Outcome{Err: auth.ErrMechanismTooWeak}
	})
	reg.Set("sasl-error", SASLError(newTestDeps(t)))
	reg.Set("write", Write)

	var gotOutput string
	msg := dispatch.NewMessage(xm.NewElementNamespace("auth", nsSASL), "c1", "sasl-auth", nil,
		reg.Resolve([]string{"fail", "write"}),
		reg.Resolve([]string{"sasl-error"}),
		reg, func(connID, output string) { gotOutput = output })
	msg.Process()

	if gotOutput == "" || !strings.Contains(gotOutput, "<failure") || !strings.Contains(gotOutput, "mechanism-too-weak") {
		t.Fatalf("expected serialized <failure/> with mechanism-too-weak, got %q", gotOutput)
	}
}
