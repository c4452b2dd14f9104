package router

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/phase"
	xm "github.com/linusyang/pjabberd/xmpp"
)

func emptyDispatchers() (*dispatch.Dispatcher, *dispatch.Dispatcher, *conn.Registry) {
	reg := dispatch.NewRegistry()
	connReg := conn.NewRegistry()
	table := phase.NewTable([]phase.Entry{{Name: "default"}})
	return dispatch.New(table, reg, connReg), dispatch.New(table, reg, connReg), connReg
}

func TestRouteLocalDeliversToBoundResource(t *testing.T) {
	core, stanzas, connReg := emptyDispatchers()
	resources := NewResources()

	server, client := net.Pipe()
	defer client.Close()
	c := conn.New("conn1", server, "c2s", core, stanzas, func(cc *conn.Connection) { connReg.Remove(cc) })
	connReg.Add(c)
	resources.Bind("user@example.com", "res1", c)

	r := New("example.com", resources, connReg, core, stanzas, nil)

	msg := xm.NewElementNamespace("message", "jabber:client")
	msg.SetAttribute("to", "user@example.com/res1")

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	if ok := r.Route(msg, ""); !ok {
		t.Fatal("expected Route to succeed for a bound resource")
	}

	select {
	case got := <-done:
		if string(got) != msg.String() {
			t.Fatalf("got %q, want %q", got, msg.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
}

func TestRouteLocalFailsForUnboundJID(t *testing.T) {
	core, stanzas, connReg := emptyDispatchers()
	resources := NewResources()
	r := New("example.com", resources, connReg, core, stanzas, nil)

	msg := xm.NewElementNamespace("message", "jabber:client")
	msg.SetAttribute("to", "nobody@example.com/res1")

	if r.Route(msg, "") {
		t.Fatal("expected Route to fail for an unbound recipient")
	}
}

func TestRouteMissingToFails(t *testing.T) {
	core, stanzas, connReg := emptyDispatchers()
	r := New("example.com", NewResources(), connReg, core, stanzas, nil)

	msg := xm.NewElementNamespace("message", "jabber:client")
	if r.Route(msg, "") {
		t.Fatal("expected Route to fail with no 'to' attribute and no override")
	}
}

type fakeDialer struct {
	conn net.Conn
	err  error
}

func (f *fakeDialer) Dial(ctx context.Context, domain string) (net.Conn, error) {
	return f.conn, f.err
}

func TestRouteS2SDialsAndFlushesQueuedStanza(t *testing.T) {
	core, stanzas, connReg := emptyDispatchers()
	server, client := net.Pipe()
	defer client.Close()

	r := New("example.com", NewResources(), connReg, core, stanzas, &fakeDialer{conn: server})

	msg := xm.NewElementNamespace("message", "jabber:server")
	msg.SetAttribute("to", "user@remote.example")

	if ok := r.Route(msg, ""); !ok {
		t.Fatal("expected Route to accept and queue for dialing")
	}

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != msg.String() {
		t.Fatalf("got %q, want %q", buf[:n], msg.String())
	}
}

func TestResourcesBindUnbindLookup(t *testing.T) {
	core, stanzas, connReg := emptyDispatchers()
	_ = stanzas
	server, client := net.Pipe()
	defer client.Close()
	c := conn.New("conn1", server, "c2s", core, stanzas, func(cc *conn.Connection) { connReg.Remove(cc) })

	res := NewResources()
	res.Bind("user@example.com", "res1", c)

	if got := res.Lookup("user@example.com", "res1"); len(got) != 1 || got[0] != c {
		t.Fatalf("Lookup = %v", got)
	}
	if got := res.Lookup("user@example.com", ""); len(got) != 1 {
		t.Fatalf("Lookup(all resources) = %v", got)
	}

	res.Unbind("user@example.com", "res1")
	if got := res.Lookup("user@example.com", "res1"); len(got) != 0 {
		t.Fatalf("expected empty after Unbind, got %v", got)
	}
}
