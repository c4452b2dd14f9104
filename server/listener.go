package server

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/log"
)

// listener accepts connections on one TCP address and turns each into a
// conn.Connection wired to a fixed pair of dispatchers, the Go equivalent
// of pjs/server.py's Server.handle_accept loop (C2SServer/S2SServer only
// differ in which Connection subclass and phase registries they use,
// which here is streamType plus the core/stanzas dispatcher pair).
type listener struct {
	ln         net.Listener
	streamType string // "c2s" or "s2s"
	idPrefix   string // "c" (client-in) or "sin" (server-in)

	connReg       *conn.Registry
	core, stanzas *dispatch.Dispatcher
}

// listenWithRetry binds addr, retrying up to retries times on failure with
// a short backoff between attempts — the concrete behavior named by §6
// ("bind retried up to 3 times on failure"), which has no direct
// equivalent in pjs/server.py's single bind() call.
func listenWithRetry(addr string, retries int) (net.Listener, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		log.Warnf("bind %s failed (attempt %d/%d): %v", addr, attempt+1, retries+1, err)
		if attempt < retries {
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
		}
	}
	return nil, lastErr
}

func newListener(addr string, retries int, streamType, idPrefix string, connReg *conn.Registry, core, stanzas *dispatch.Dispatcher) (*listener, error) {
	ln, err := listenWithRetry(addr, retries)
	if err != nil {
		return nil, err
	}
	return &listener{
		ln:         ln,
		streamType: streamType,
		idPrefix:   idPrefix,
		connReg:    connReg,
		core:       core,
		stanzas:    stanzas,
	}, nil
}

// serve runs the accept loop until the listener is closed, logging and
// continuing past transient per-connection accept errors rather than
// tearing down the whole listener — mirroring asyncore's dispatcher loop,
// which keeps calling handle_accept regardless of one connection's fate.
func (l *listener) serve() {
	for {
		sock, err := l.ln.Accept()
		if err != nil {
			if isTemporary(err) {
				continue
			}
			log.Infof("%s listener stopped: %v", l.streamType, err)
			return
		}
		id := l.idPrefix + "-" + uuid.New().String()
		c := conn.New(id, sock, l.streamType, l.core, l.stanzas, func(cc *conn.Connection) {
			l.connReg.Remove(cc)
		})
		l.connReg.Add(c)
		log.Infof("accepted %s connection %s from %s", l.streamType, id, sock.RemoteAddr())
	}
}

func (l *listener) close() error { return l.ln.Close() }

type temporaryError interface {
	Temporary() bool
}

func isTemporary(err error) bool {
	te, ok := err.(temporaryError)
	return ok && te.Temporary()
}
