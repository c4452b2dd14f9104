// Package router implements outbound stanza routing: local delivery to a
// bound resource, S2S link reuse, and on-demand outbound S2S dialing with
// a staged bootstrap queue for stanzas that arrive before the link is up.
package router

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/jid"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// srvResolveFunc/dialFunc are overridable for tests, matching the shape
// s2s/dialer.go uses to keep DNS/socket calls out of unit tests.
type srvResolveFunc func(service, proto, name string) (string, []*net.SRV, error)
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer opens an outbound S2S TCP connection to a domain.
type Dialer interface {
	Dial(ctx context.Context, domain string) (net.Conn, error)
}

type tcpDialer struct {
	srvResolve  srvResolveFunc
	dialContext dialFunc
}

// NewDialer builds the default plain-TCP, SRV-aware s2s Dialer.
func NewDialer() Dialer {
	var d net.Dialer
	return &tcpDialer{srvResolve: net.LookupSRV, dialContext: d.DialContext}
}

func (d *tcpDialer) Dial(ctx context.Context, domain string) (net.Conn, error) {
	target := domain + ":5269"
	if _, addrs, err := d.srvResolve("xmpp-server", "tcp", domain); err == nil && len(addrs) > 0 && addrs[0].Target != "." {
		target = strings.TrimSuffix(addrs[0].Target, ".") + ":" + strconv.Itoa(int(addrs[0].Port))
	}
	return d.dialContext(ctx, "tcp", target)
}

// Resources resolves a bare JID to the live local connections bound to it,
// the Go equivalent of pjs/server.py's self.data['resources'] dict.
type Resources struct {
	mu        sync.RWMutex
	byBareJID map[string]map[string]*conn.Connection // bare JID -> resource -> conn
}

// NewResources builds an empty resource table.
func NewResources() *Resources {
	return &Resources{byBareJID: make(map[string]map[string]*conn.Connection)}
}

// Bind registers c as bareJID/resource's live connection.
func (r *Resources) Bind(bareJID, resource string, c *conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byBareJID[bareJID]
	if !ok {
		m = make(map[string]*conn.Connection)
		r.byBareJID[bareJID] = m
	}
	m[resource] = c
}

// Unbind removes bareJID/resource's binding.
func (r *Resources) Unbind(bareJID, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byBareJID[bareJID]; ok {
		delete(m, resource)
		if len(m) == 0 {
			delete(r.byBareJID, bareJID)
		}
	}
}

// Lookup returns every connection bound under bareJID (every resource), or
// just resource's connection if resource is non-empty.
func (r *Resources) Lookup(bareJID, resource string) []*conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byBareJID[bareJID]
	if !ok {
		return nil
	}
	if resource != "" {
		if c, ok := m[resource]; ok {
			return []*conn.Connection{c}
		}
		return nil
	}
	out := make([]*conn.Connection, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// s2sLink is one established S2S connection pair to a remote domain,
// mirroring pjs/router.py's self.conns[domain] = (in, out).
type s2sLink struct {
	out *conn.Connection
}

// Router delivers outbound stanzas: locally if the recipient's domain is
// ours, over an existing S2S link if one is up, or by dialing a new one
// and queuing the stanza until it's ready.
type Router struct {
	hostname  string
	resources *Resources
	conns     *conn.Registry

	core    *dispatch.Dispatcher // core phase table, for replies on outbound S2S links
	stanzas *dispatch.Dispatcher // s2s-stanza phase table, ditto

	dialer  Dialer
	breaker *gobreaker.CircuitBreaker

	mu     sync.Mutex
	s2s    map[string]*s2sLink          // domain -> established link
	queued map[string][]*xm.Element     // domain -> queued outbound stanzas while dialing
	dialed map[string]bool              // domain -> dial in flight
}

// New builds a Router for hostname, delivering locally via resources and
// reaching other domains via dialer, with outbound dials guarded by a
// circuit breaker so a persistently unreachable domain stops being retried
// on every stanza.
func New(hostname string, resources *Resources, conns *conn.Registry, core, stanzas *dispatch.Dispatcher, dialer Dialer) *Router {
	return &Router{
		hostname:  hostname,
		resources: resources,
		conns:     conns,
		core:      core,
		stanzas:   stanzas,
		dialer:    dialer,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "s2s-dial",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		}),
		s2s:    make(map[string]*s2sLink),
		queued: make(map[string][]*xm.Element),
		dialed: make(map[string]bool),
	}
}

// Route delivers data to the bare JID in its 'to' attribute (or the
// explicit to override), mirroring pjs/router.py's route(): local
// loopback shortcut when the target domain is ours, S2S link reuse, or a
// staged dial-and-queue bootstrap otherwise.
func (r *Router) Route(data *xm.Element, to string) bool {
	if to == "" {
		to = data.To()
	}
	if to == "" {
		return false
	}
	j, err := jid.Parse(to)
	if err != nil {
		return false
	}

	if j.Domain() == r.hostname {
		return r.routeLocal(j, data)
	}
	return r.routeS2S(j.Domain(), data)
}

func (r *Router) routeLocal(j *jid.JID, data *xm.Element) bool {
	targets := r.resources.Lookup(j.Bare().String(), j.Resource())
	if len(targets) == 0 {
		return false
	}
	out := data.String()
	for _, c := range targets {
		c.Send(c.ID, out)
	}
	return true
}

func (r *Router) routeS2S(domain string, data *xm.Element) bool {
	r.mu.Lock()
	if link, ok := r.s2s[domain]; ok {
		r.mu.Unlock()
		link.out.Send(link.out.ID, data.String())
		return true
	}
	r.queued[domain] = append(r.queued[domain], data)
	alreadyDialing := r.dialed[domain]
	r.dialed[domain] = true
	r.mu.Unlock()

	if !alreadyDialing {
		go r.dialAndFlush(domain)
	}
	return true
}

func (r *Router) dialAndFlush(domain string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.dialer.Dial(ctx, domain)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dialed, domain)

	if err != nil {
		delete(r.queued, domain)
		return
	}

	nc := result.(net.Conn)
	id := "s2s-out-" + domain
	c := conn.New(id, nc, "s2s", r.core, r.stanzas, func(cc *conn.Connection) {
		r.mu.Lock()
		delete(r.s2s, domain)
		r.mu.Unlock()
		r.conns.Remove(cc)
	})
	r.conns.Add(c)
	r.s2s[domain] = &s2sLink{out: c}

	for _, stanza := range r.queued[domain] {
		c.Send(c.ID, stanza.String())
	}
	delete(r.queued, domain)
}
