package handler

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/roster"
	xm "github.com/linusyang/pjabberd/xmpp"
)

func newMockRosterStore(t *testing.T) (*roster.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return roster.NewStore(db, "sqlite3"), mock
}

func iqRequest(id, typ string, payload *xm.Element) *xm.Element {
	el := xm.NewElementName("iq")
	el.SetAttribute("id", id)
	el.SetAttribute("type", typ)
	if payload != nil {
		el.AppendElement(payload)
	}
	return el
}

func TestIQBindHonorsRequestedResource(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.JID = "bob@localhost"
	d := newTestDeps(t)

	bindReq := xm.NewElementNamespace("bind", nsBind)
	resourceEl := xm.NewElementName("resource")
	resourceEl.SetText("laptop")
	bindReq.AppendElement(resourceEl)
	req := iqRequest("1", "set", bindReq)
	m := newMessage(req, c)

	out := IQBind(d)(m)
	el := out.Value.(*xm.Element)
	if c.State.Resource != "laptop" {
		t.Fatalf("expected resource laptop, got %q", c.State.Resource)
	}
	bind := el.Elements().ChildNamespace("bind", nsBind)
	if bind == nil || bind.Elements().Child("jid").Text() != "bob@localhost/laptop" {
		t.Fatalf("expected bound jid in reply, got %s", el.String())
	}
}

func TestIQBindSuffixesResourceOnCollision(t *testing.T) {
	other, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	d.Resources.Bind("bob@localhost", "laptop", other)

	c, _ := newTestConn(t, "c2s")
	c.State.JID = "bob@localhost"
	bindReq := xm.NewElementNamespace("bind", nsBind)
	resourceEl := xm.NewElementName("resource")
	resourceEl.SetText("laptop")
	bindReq.AppendElement(resourceEl)
	m := newMessage(iqRequest("2", "set", bindReq), c)

	out := IQBind(d)(m)
	el := out.Value.(*xm.Element)
	if el.Type() != "result" {
		t.Fatalf("expected result IQ, got %s", el.String())
	}
	if c.State.Resource == "laptop" || len(c.State.Resource) != len("laptop")+6 {
		t.Fatalf("expected resource laptop plus a 6-char suffix, got %q", c.State.Resource)
	}
	bind := el.Elements().ChildNamespace("bind", nsBind)
	wantJID := "bob@localhost/" + c.State.Resource
	if bind == nil || bind.Elements().Child("jid").Text() != wantJID {
		t.Fatalf("expected bound jid %q in reply, got %s", wantJID, el.String())
	}
}

func TestIQSessionMarksInSession(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(iqRequest("3", "set", xm.NewElementNamespace("session", nsSession)), c)

	out := IQSession(d)(m)
	if !c.State.InSession {
		t.Fatal("expected InSession to be set")
	}
	if out.Value.(*xm.Element).Type() != "result" {
		t.Fatal("expected a result IQ")
	}
}

func TestIQNotImplementedWrapsServiceUnavailable(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	d := newTestDeps(t)
	m := newMessage(iqRequest("4", "set", xm.NewElementNamespace("vCard", "vcard-temp")), c)

	out := IQNotImplemented(d)(m)
	el := out.Value.(*xm.Element)
	if el.Elements().Child("error").Elements().ChildNamespace("service-unavailable", "urn:ietf:params:xml:ns:xmpp-stanzas") == nil {
		t.Fatalf("expected service-unavailable condition, got %s", el.String())
	}
}

func TestIQRosterGetReturnsLoadedItems(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.JID = "bob@localhost"
	d := newTestDeps(t)
	store, mock := newMockRosterStore(t)
	d.Roster = store

	mock.ExpectQuery("SELECT roster.contactid, roster.name, roster.subscription, contactjids.jid").
		WillReturnRows(sqlmock.NewRows([]string{"contactid", "name", "subscription", "jid"}).
			AddRow(int64(1), "Ann", int(roster.SubTo), "ann@localhost"))
	mock.ExpectQuery("SELECT id FROM jids").
		WithArgs("bob@localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery("SELECT rgs.name FROM rostergroups").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("friends"))

	req := iqRequest("5", "get", xm.NewElementNamespace("query", nsRoster))
	m := newMessage(req, c)

	value, err := resolveAsync(t, IQRosterGet(d)(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	el := value.(*xm.Element)
	query := el.Elements().ChildNamespace("query", nsRoster)
	if query == nil || query.Elements().Child("item") == nil {
		t.Fatalf("expected a roster <item/>, got %s", el.String())
	}
	item := query.Elements().Child("item")
	if item.Attributes().Get("jid") != "ann@localhost" || item.Attributes().Get("subscription") != "to" {
		t.Fatalf("unexpected item attributes: %s", item.String())
	}
	if !c.State.RequestedRoster {
		t.Fatal("expected RequestedRoster to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIQRosterUpdateMissingItemIsBadRequest(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.JID = "bob@localhost"
	d := newTestDeps(t)
	req := iqRequest("6", "set", xm.NewElementNamespace("query", nsRoster))
	m := newMessage(req, c)

	out := IQRosterUpdate(d)(m)
	el := out.Value.(*xm.Element)
	if el.Elements().Child("error").Elements().ChildNamespace("bad-request", "urn:ietf:params:xml:ns:xmpp-stanzas") == nil {
		t.Fatalf("expected bad-request condition, got %s", el.String())
	}
}

func TestIQRosterUpdateRemovePushesRemoveAndAcks(t *testing.T) {
	c, _ := newTestConn(t, "c2s")
	c.State.JID = "bob@localhost"
	d := newTestDeps(t)
	store, mock := newMockRosterStore(t)
	d.Roster = store

	// RemoveContact: GetContactInfo (userID + roster-join select), then
	// userID again, then the two deletes.
	mock.ExpectQuery("SELECT id FROM jids").
		WithArgs("bob@localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery("SELECT roster.contactid, roster.name, roster.subscription").
		WillReturnRows(sqlmock.NewRows([]string{"contactid", "name", "subscription"}).
			AddRow(int64(1), "Ann", int(roster.SubTo)))
	mock.ExpectQuery("SELECT rgs.name FROM rostergroups").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectQuery("SELECT id FROM jids").
		WithArgs("bob@localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("DELETE FROM rostergroupitems").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM roster").
		WillReturnResult(sqlmock.NewResult(0, 1))

	item := xm.NewElementName("item")
	item.SetAttribute("jid", "ann@localhost")
	item.SetAttribute("subscription", "remove")
	query := xm.NewElementNamespace("query", nsRoster)
	query.AppendElement(item)
	req := iqRequest("7", "set", query)
	m := newMessage(req, c)

	out := IQRosterUpdate(d)(m)
	if out.Async == nil {
		t.Fatal("expected a threaded outcome")
	}
	value, err := resolveAsync(t, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := value.(*rosterUpdateResult)
	if res.push == nil || res.push.Attributes().Get("subscription") != "remove" {
		t.Fatalf("expected a remove push item, got %#v", res.push)
	}
	if res.ack.Type() != "result" {
		t.Fatalf("expected a result ack, got %s", res.ack.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRosterPushDeliversToResourcesAndAcks(t *testing.T) {
	requester, _ := newTestConn(t, "c2s")
	requester.State.JID = "bob@localhost"
	requester.State.Resource = "phone"
	requester.State.RequestedRoster = true

	d := newTestDeps(t)
	d.Resources.Bind(requester.State.JID, requester.State.Resource, requester)

	item := xm.NewElementName("item")
	item.SetAttribute("jid", "ann@localhost")
	ack := iqRequest("8", "result", nil)
	res := &rosterUpdateResult{push: item, ack: ack}

	reg := dispatch.NewRegistry()
	reg.Set("produce", func(mm *dispatch.Message) dispatch.Outcome { return dispatch.Outcome{Value: res} })
	reg.Set("roster-push", RosterPush(d))
	var captured interface{}
	reg.Set("capture", func(mm *dispatch.Message) dispatch.Outcome {
		captured = mm.LastValue()
		return dispatch.Outcome{}
	})

	msg := dispatch.NewMessage(xm.NewElementName("iq"), requester.ID, "iq-roster-update", requester,
		reg.Resolve([]string{"produce", "roster-push", "capture"}), nil, reg, nil)
	msg.Process()

	if captured != ack {
		t.Fatalf("expected ack passthrough, got %#v", captured)
	}
}
