// Package conn implements the per-socket Connection actor: the serialized
// read/process/write loop every C2S and S2S connection runs, grounded in
// jackal's c2s/c2s.go stream type (actorCh-driven goroutine, doRead/
// actorLoop split) generalized to carry pjs/connection.py's Connection.data
// state bag (stream/sasl/tls/user) as typed fields instead of a dict.
package conn

import (
	"net"
	"sync"

	"github.com/linusyang/pjabberd/auth"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/parser"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// mailboxSize bounds the actor channel the way jackal bounds streamMailboxSize.
const mailboxSize = 64

// NewS2SPending captures the staged S2S bootstrap state the router
// populates while an outbound connection to a new domain is being dialed,
// mirroring pjs/router.py's msg.conn.data['new-s2s-conn'] dict.
type NewS2SPending struct {
	Hostname  string
	Connected bool
	Queue     []string
}

// State is this connection's mutable protocol state, the typed equivalent
// of pjs/connection.py's self.data dict.
type State struct {
	// stream
	InStream   bool
	StreamType string // "c2s" or "s2s"
	StreamID   string

	// sasl
	SASLMech        string
	SASLPlain       *auth.PlainMechanism
	SASLDigest      *auth.DigestMD5Mechanism
	SASLInProgress  bool
	SASLComplete    bool
	SASLDigestRound int // 0=not started, 1=awaiting response to challenge 1, 2=awaiting final ack

	// user (c2s only)
	JID             string
	Resource        string
	InSession       bool
	RequestedRoster bool

	// presence cache (c2s only): whether this resource has announced
	// availability, and a copy of the last <presence/> it sent, used to
	// answer S2S probes.
	Active       bool
	LastPresence *xm.Element

	// s2s bootstrap
	NewS2SConn *NewS2SPending
}

// Connection is one accepted socket, run through a single actor goroutine
// so handlers never need their own locking around connection state.
type Connection struct {
	ID   string
	Addr net.Addr

	rwc    net.Conn
	parser *parser.Parser

	core    *dispatch.Dispatcher // core (stream-lifecycle) phase dispatcher
	stanzas *dispatch.Dispatcher // c2s-stanza or s2s-stanza phase dispatcher

	actorCh chan func()

	mu     sync.Mutex
	State  *State
	closed bool

	onClose func(*Connection)
}

// New wraps rwc in a Connection and starts its actor and read loops.
// streamType is "c2s" or "s2s", used to seed State.StreamType exactly as
// pjs/connection.py's constructor does.
func New(id string, rwc net.Conn, streamType string, core, stanzas *dispatch.Dispatcher, onClose func(*Connection)) *Connection {
	c := &Connection{
		ID:      id,
		Addr:    rwc.RemoteAddr(),
		rwc:     rwc,
		parser:  parser.New(rwc),
		core:    core,
		stanzas: stanzas,
		actorCh: make(chan func(), mailboxSize),
		State:   &State{StreamType: streamType},
		onClose: onClose,
	}
	go c.actorLoop()
	go c.readLoop()
	return c
}

func (c *Connection) actorLoop() {
	for f := range c.actorCh {
		f()
	}
}

// readLoop is the doRead equivalent: it owns the blocking parser reads and
// hands each event to the actor loop so dispatch of parsed events runs
// serialized with respect to writes on this connection. Worker-pool
// resumes of suspended handlers run on the pool's goroutines, not here.
func (c *Connection) readLoop() {
	for {
		ev, err := c.parser.Next()
		if err != nil {
			c.post(func() { c.handleReadError(err) })
			return
		}
		ev := ev
		if !c.post(func() { c.handleEvent(ev) }) {
			return
		}
	}
}

// post queues f on the actor channel, reporting false instead of panicking
// if the connection closed (and so the channel closed) concurrently.
func (c *Connection) post(f func()) (ok bool) {
	if c.isClosed() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	c.actorCh <- f
	return true
}

func (c *Connection) handleEvent(ev *parser.Event) {
	switch ev.Kind {
	case parser.EventInStreamInit:
		c.mu.Lock()
		c.State.InStream = true
		c.mu.Unlock()
		c.core.DispatchCtx(ev.Stream, c.ID, "in-stream-init", c)
	case parser.EventOutStreamInit:
		c.core.DispatchCtx(ev.Stream, c.ID, "out-stream-init", c)
	case parser.EventInStreamReinit:
		c.core.DispatchCtx(ev.Stream, c.ID, "in-stream-reinit", c)
	case parser.EventStreamEnd:
		c.mu.Lock()
		c.State.InStream = false
		c.mu.Unlock()
		c.core.DispatchCtx(ev.Stream, c.ID, "stream-end", c)
	case parser.EventStanza:
		c.stanzas.DispatchCtx(ev.Stanza, c.ID, "", c)
	}
}

func (c *Connection) handleReadError(err error) {
	c.Close()
}

// Send queues data to be written on the actor goroutine, implementing
// dispatch.Sink so a Dispatcher can flush finished Messages' output
// straight to the socket — the one place pjs/events.py's pickupResults
// wrote to conn.send.
func (c *Connection) Send(connID, data string) {
	if connID != c.ID || data == "" {
		return
	}
	c.post(func() { c.writeRaw(data) })
}

func (c *Connection) writeRaw(data string) {
	if c.isClosed() {
		return
	}
	if _, err := c.rwc.Write([]byte(data)); err != nil {
		c.Close()
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the socket and parser and, if set, notifies the
// registry via onClose — mirroring pjs/connection.py's handle_close
// (resetStream + socket close + resource cleanup).
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.parser.Close()
	c.rwc.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
	close(c.actorCh)
}

// StampFrom returns a copy of root with a 'from' attribute set to the
// connection's bound JID, used by c2s-message/c2s-presence handlers the
// way pjs/handlers adds the sender's address before routing.
func StampFrom(root *xm.Element, from string) *xm.Element {
	cp := root.Copy()
	cp.SetAttribute("from", from)
	return cp
}
