// Package handler implements every named handler a phase table's
// Handlers/ErrorHandlers chain can reference, plus the registry wiring
// that maps those names to the HandlerFunc implementing them — the Go
// counterpart of pjs/conf/handlers.py.
package handler

import (
	"strings"

	"github.com/pborman/uuid"

	"github.com/linusyang/pjabberd/auth"
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/roster"
	"github.com/linusyang/pjabberd/router"
	"github.com/linusyang/pjabberd/workerpool"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// Deps bundles every shared dependency a handler closure needs —
// equivalent to the module-level launcher/server/router objects
// pjs/handlers/*.py reach for via msg.conn.server.
type Deps struct {
	Hostname  string
	Roster    *roster.Store
	Router    *router.Router
	Resources *router.Resources
	Creds     auth.CredentialStore
	Pool      *workerpool.Pool
}

// generateID mirrors pjs/utils.py's generateId(): an opaque unique token
// used for stream ids and stanza ids alike.
func generateID() string { return uuid.New() }

// shortID returns the first n hex characters of a fresh id, matching
// generateId()[:6]/[:10] call sites in the original (resource suffixes,
// roster-push stanza ids).
func shortID(n int) string {
	id := strings.ReplaceAll(generateID(), "-", "")
	if len(id) > n {
		return id[:n]
	}
	return id
}

// connOf recovers the owning *conn.Connection from a Message's opaque
// Ctx, the seam dispatch/ leaves open so it doesn't need to import conn.
func connOf(m *dispatch.Message) *conn.Connection {
	c, _ := m.Ctx.(*conn.Connection)
	return c
}

// element unwraps a dispatch.Message's classified Tree back into the
// concrete element type every handler operates on.
func element(m *dispatch.Message) *xm.Element {
	e, _ := m.Tree.(*xm.Element)
	return e
}
