package handler

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/linusyang/pjabberd/roster"
	xm "github.com/linusyang/pjabberd/xmpp"
)

func TestSubscriptionTransitionSendSubscribe(t *testing.T) {
	next, handled := subscriptionTransition(roster.SubNone, xm.SubscribeType)
	if !handled || next != roster.SubNonePendingOut {
		t.Fatalf("expected SubNonePendingOut, got %v (handled=%v)", next, handled)
	}
}

func TestSubscriptionTransitionIgnoresPlainPresence(t *testing.T) {
	_, handled := subscriptionTransition(roster.SubNone, "")
	if handled {
		t.Fatal("expected an untyped presence to not be handled")
	}
}

func TestReceivedSubscriptionTransitionSubscribed(t *testing.T) {
	next, handled := receivedSubscriptionTransition(roster.SubNonePendingOut, xm.SubscribedType)
	if !handled || next != roster.SubTo {
		t.Fatalf("expected SubTo, got %v (handled=%v)", next, handled)
	}
}

func TestC2SPresenceBroadcastsToSubscribers(t *testing.T) {
	sender, _ := newTestConn(t, "c2s")
	sender.State.JID = "bob@localhost"
	sender.State.Resource = "home"

	d := newTestDeps(t)
	store, mock := newMockRosterStore(t)
	d.Roster = store
	// The initial presence first probes the contacts bob is subscribed to
	// (none here), then broadcasts to his presence subscribers (ann).
	mock.ExpectQuery("SELECT id FROM jids").
		WithArgs("bob@localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT jids.jid FROM roster").
		WillReturnRows(sqlmock.NewRows([]string{"jid"}))
	mock.ExpectQuery("SELECT id FROM jids").
		WithArgs("bob@localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT jids.jid FROM roster").
		WillReturnRows(sqlmock.NewRows([]string{"jid"}).AddRow("ann@localhost"))

	recipient, _ := newTestConn(t, "c2s")
	d.Resources.Bind("ann@localhost", "phone", recipient)

	el := xm.NewElementName("presence")
	m := newMessage(el, sender)

	_, err := resolveAsync(t, C2SPresence(d)(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestS2SPresenceRoutesDirectly(t *testing.T) {
	d := newTestDeps(t)
	recipient, _ := newTestConn(t, "c2s")
	d.Resources.Bind("bob@localhost", "home", recipient)

	el := xm.NewElementName("presence")
	el.SetAttribute("to", "bob@localhost/home")
	el.SetAttribute("from", "ann@remote.example")
	c, _ := newTestConn(t, "s2s")
	m := newMessage(el, c)

	out := S2SPresence(d)(m)
	if out.Async != nil || out.Err != nil {
		t.Fatalf("expected synchronous empty outcome, got %#v", out)
	}
}

func TestS2SProbeRepliesUnavailableWhenNotEntitled(t *testing.T) {
	d := newTestDeps(t)
	store, mock := newMockRosterStore(t)
	d.Roster = store
	mock.ExpectQuery("SELECT id FROM jids").
		WithArgs("bob@localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT roster.contactid, roster.name, roster.subscription").
		WillReturnRows(sqlmock.NewRows([]string{"contactid", "name", "subscription"}))

	reply, _ := newTestConn(t, "s2s")
	el := xm.NewElementName("presence")
	el.SetAttribute("type", "probe")
	el.SetAttribute("to", "bob@localhost")
	el.SetAttribute("from", "ann@remote.example")
	m := newMessage(el, reply)

	_, err := resolveAsync(t, S2SProbe(d)(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
