package handler

import (
	"strings"
	"testing"

	xm "github.com/linusyang/pjabberd/xmpp"
)

func TestInStreamInitOpensTagAndSetsStreamID(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(xm.NewElementName("stream:stream"), c)

	out := InStreamInit(d)(m)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if c.State.StreamID == "" {
		t.Fatal("expected StreamID to be set")
	}
	if !strings.Contains(m.Output(), "<stream:stream") {
		t.Fatalf("expected open tag in buffered output, got %q", m.Output())
	}
	if strings.HasSuffix(strings.TrimSpace(m.Output()), "/>") {
		t.Fatal("open stream tag must not self-close")
	}
}

func TestFeaturesInitOffersSASLBeforeAuth(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(xm.NewElementName("features"), c)

	out := FeaturesInit(d)(m)
	el, ok := out.Value.(*xm.Element)
	if !ok {
		t.Fatalf("expected *xm.Element, got %T", out.Value)
	}
	if el.Elements().ChildNamespace("mechanisms", nsSASL) == nil {
		t.Fatalf("expected <mechanisms/> offer, got %s", el.String())
	}
}

func TestFeaturesInitEmptyOnceSASLComplete(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.SASLComplete = true
	d := newTestDeps(t)
	m := newMessage(xm.NewElementName("features"), c)

	out := FeaturesInit(d)(m)
	el := out.Value.(*xm.Element)
	if el.Elements().ChildNamespace("mechanisms", nsSASL) != nil {
		t.Fatalf("expected no mechanisms offer post-auth, got %s", el.String())
	}
}

func TestInStreamReInitOffersBindAfterSASL(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.SASLComplete = true
	d := newTestDeps(t)
	m := newMessage(xm.NewElementName("stream:stream"), c)

	InStreamReInit(d)(m)
	if !strings.Contains(m.Output(), "<bind") || !strings.Contains(m.Output(), "<session") {
		t.Fatalf("expected bind+session features, got %q", m.Output())
	}
}

func TestCleanupConnUnbindsAndCloses(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.JID = "bob@localhost"
	c.State.Resource = "home"
	d := newTestDeps(t)
	d.Resources.Bind(c.State.JID, c.State.Resource, c)
	m := newMessage(xm.NewElementName("stream:stream"), c)

	CleanupConn(d)(m)

	if live := d.Resources.Lookup(c.State.JID, c.State.Resource); len(live) != 0 {
		t.Fatal("expected resource to be unbound")
	}
	if !strings.Contains(m.Output(), "</stream:stream>") {
		t.Fatal("expected closing stream tag")
	}
}
