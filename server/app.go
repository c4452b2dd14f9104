package server

import (
	"github.com/linusyang/pjabberd/conn"
	"github.com/linusyang/pjabberd/config"
	"github.com/linusyang/pjabberd/dispatch"
	"github.com/linusyang/pjabberd/handler"
	"github.com/linusyang/pjabberd/phase"
	"github.com/linusyang/pjabberd/roster"
	"github.com/linusyang/pjabberd/router"
	"github.com/linusyang/pjabberd/workerpool"
)

// App is the fully wired server: the phase tables, dispatchers, router,
// handler registry and the two TCP listeners built from them, the
// composition root pjs/launcher.py occupies in the original (constructing
// a C2SServer and an S2SServer sharing one Router and one set of
// handlers).
type App struct {
	cfg *config.Config

	connReg *conn.Registry
	pool    *workerpool.Pool
	router  *router.Router

	c2sListener *listener
	s2sListener *listener
}

// New builds every in-process component (phase tables, dispatch registry,
// router, handler bindings) and binds the C2S/S2S TCP listeners, but does
// not yet accept connections — call Serve for that. store backs both the
// roster pipeline and SASL/iq-auth credential lookups (*roster.Store
// implements auth.CredentialStore).
func New(cfg *config.Config, store *roster.Store) (*App, error) {
	connReg := conn.NewRegistry()
	reg := dispatch.NewRegistry()

	core := dispatch.New(phase.Core(), reg, connReg)
	c2sStanzas := dispatch.New(phase.C2SStanza(), reg, connReg)
	s2sStanzas := dispatch.New(phase.S2SStanza(), reg, connReg)

	resources := router.NewResources()
	pool := workerpool.New(cfg.WorkerPoolSize)

	// Outbound S2S links dialed by the router run the same core/s2s-stanza
	// tables an inbound S2S connection does, so a reply on a freshly dialed
	// link is classified identically regardless of who initiated it.
	r := router.New(cfg.Hostname, resources, connReg, core, s2sStanzas, router.NewDialer())

	deps := &handler.Deps{
		Hostname:  cfg.Hostname,
		Roster:    store,
		Router:    r,
		Resources: resources,
		Creds:     store,
		Pool:      pool,
	}
	handler.Register(reg, deps)

	c2sLn, err := newListener(cfg.C2S.Addr, cfg.C2S.BindRetries, "c2s", "c", connReg, core, c2sStanzas)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s2sLn, err := newListener(cfg.S2S.Addr, cfg.S2S.BindRetries, "s2s", "sin", connReg, core, s2sStanzas)
	if err != nil {
		c2sLn.close()
		pool.Close()
		return nil, err
	}

	return &App{
		cfg:         cfg,
		connReg:     connReg,
		pool:        pool,
		router:      r,
		c2sListener: c2sLn,
		s2sListener: s2sLn,
	}, nil
}

// Serve runs both accept loops until Close is called; it blocks, so
// callers typically run it in its own goroutine.
func (a *App) Serve() {
	done := make(chan struct{})
	go func() { a.c2sListener.serve(); close(done) }()
	a.s2sListener.serve()
	<-done
}

// Close stops both listeners and shuts down the worker pool.
func (a *App) Close() error {
	err1 := a.c2sListener.close()
	err2 := a.s2sListener.close()
	a.pool.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
