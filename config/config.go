// Package config defines the server-wide Config struct, the Go analogue
// of jackal's per-stream *Config (c2s/c2s.go's cfg field) generalized to
// cover both listeners and the storage layer, since this server has no
// per-module config tree to borrow structure from. Defaults are set in
// code; no external config file is required by the core, per §6 of the
// specification this module implements.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Listener configures one TCP accept loop.
type Listener struct {
	Addr        string `yaml:"addr"`
	BindRetries int    `yaml:"bind_retries"`
}

// Storage selects the database/sql driver and DSN backing the roster
// store, matching pjs/db.py's sqlite-by-default backing while leaving
// room for the mysql/postgres drivers the domain stack wires in.
type Storage struct {
	Driver string `yaml:"driver"` // "sqlite3" (default), "mysql", or "postgres"
	DSN    string `yaml:"dsn"`
}

// Config is the top-level server configuration.
type Config struct {
	Hostname string `yaml:"hostname"`

	C2S Listener `yaml:"c2s"`
	S2S Listener `yaml:"s2s"`

	SASLMechanisms []string `yaml:"sasl_mechanisms"`

	WorkerPoolSize int `yaml:"worker_pool_size"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`

	Storage Storage `yaml:"storage"`

	LogDir string `yaml:"log_dir"`
}

// Default returns the configuration a bare `pjabberd` invocation runs
// with: C2S on 5222, S2S on 5269, bind retried 3 times as named by §6,
// both SASL mechanisms enabled, and a sqlite-backed store at
// ./pjabberd.db.
func Default() *Config {
	return &Config{
		Hostname: "localhost",
		C2S:      Listener{Addr: ":5222", BindRetries: 3},
		S2S:      Listener{Addr: ":5269", BindRetries: 3},

		SASLMechanisms: []string{"DIGEST-MD5", "PLAIN"},

		WorkerPoolSize: 8,

		ConnectTimeout: 30 * time.Second,
		KeepAlive:      2 * time.Minute,

		Storage: Storage{Driver: "sqlite3", DSN: "pjabberd.db"},

		LogDir: "log",
	}
}

// Load reads a YAML-shaped config file at path and overlays it onto
// Default(), so an operator only needs to name the fields they want to
// change. A missing file is not an error — the core needs none per §6 —
// but a present, malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}
	return cfg, nil
}
