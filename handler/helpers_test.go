package handler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/phase"
	"github.com/linusyang/pjabberd/router"
	"github.com/linusyang/pjabberd/workerpool"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// fakeDialer always fails, matching router_test.go's helper of the same
// shape: a handler test that routes to a remote domain (an S2S bounce or
// probe reply) goes through the router's S2S path without a live dial.
type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, domain string) (net.Conn, error) {
	return nil, errors.New("dialing disabled in handler tests")
}

type memCreds struct{ passwords map[string]string }

func (m memCreds) Password(bareJID string) (string, bool, error) {
	p, ok := m.passwords[bareJID]
	return p, ok, nil
}

func newTestConn(t *testing.T, streamType string) (*conn.Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := conn.New("test-conn", server, streamType, nil, nil, nil)
	t.Cleanup(func() {
		client.Close()
		c.Close()
	})
	return c, client
}

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	pool := workerpool.New(2)
	t.Cleanup(pool.Close)

	table := phase.NewTable([]phase.Entry{{Name: "default"}})
	reg := dispatch.NewRegistry()
	connReg := conn.NewRegistry()
	core := dispatch.New(table, reg, connReg)
	stanzas := dispatch.New(table, reg, connReg)
	resources := router.NewResources()

	return &Deps{
		Hostname:  "localhost",
		Resources: resources,
		Router:    router.New("localhost", resources, connReg, core, stanzas, fakeDialer{}),
		Creds:     memCreds{passwords: map[string]string{"bob@localhost": "secret"}},
		Pool:      pool,
	}
}

func newMessage(tree *xm.Element, ctx interface{}) *dispatch.Message {
	return dispatch.NewMessage(tree, "test-conn", "test", ctx, nil, nil, dispatch.NewRegistry(), nil)
}

// resolveAsync runs out.Async to completion (if set) and returns its
// result, or out.Value/out.Err directly for a synchronous Outcome.
func resolveAsync(t *testing.T, out dispatch.Outcome) (interface{}, error) {
	t.Helper()
	if out.Async == nil {
		return out.Value, out.Err
	}
	done := make(chan struct{})
	var value interface{}
	var err error
	out.Async(func(v interface{}, e error) {
		value, err = v, e
		close(done)
	})
	select {
	case <-done:
		return value, err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async handler")
		return nil, nil
	}
}
