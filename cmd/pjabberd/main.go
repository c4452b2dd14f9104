// Command pjabberd runs the C2S/S2S XMPP server: it loads configuration,
// opens the roster store, and serves both listeners until interrupted.
package main

import (
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/linusyang/pjabberd/config"
	"github.com/linusyang/pjabberd/log"
	"github.com/linusyang/pjabberd/roster"
	"github.com/linusyang/pjabberd/server"
)

func main() {
	configPath := flag.String("config", "pjabberd.yml", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	log.Configure(cfg.LogDir, log.InfoLevel)
	defer log.Close()

	db, err := sql.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		log.Fatalf("opening storage %s (%s): %v", cfg.Storage.DSN, cfg.Storage.Driver, err)
	}
	defer db.Close()

	store := roster.NewStore(db, cfg.Storage.Driver)

	app, err := server.New(cfg, store)
	if err != nil {
		log.Fatalf("starting server: %v", err)
	}

	go app.Serve()
	log.Infof("pjabberd serving c2s on %s, s2s on %s", cfg.C2S.Addr, cfg.S2S.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Infof("shutting down")
	if err := app.Close(); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
