// Package config loads the famcal configuration: a YAML file, then
// environment overrides, then validation against an embedded CUE schema.
// The backend is chosen here, once, and never re-derived at call time.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/roach88/famcal/internal/record"
)

// DefaultPath is the configuration file read when none is named.
const DefaultPath = "famcal.yaml"

// Backend names.
const (
	BackendAuto       = ""
	BackendLocal      = "local"
	BackendMemory     = "memory"
	BackendKV         = "kv"
	BackendRelational = "relational"
)

// KV drivers.
const (
	KVDriverREST   = "rest"
	KVDriverConsul = "consul"
)

// Environment variables read by Load.
const (
	EnvKVURL       = "KV_REST_API_URL"
	EnvKVToken     = "KV_REST_API_TOKEN"
	EnvConsulAddr  = "CONSUL_HTTP_ADDR"
	EnvConsulToken = "CONSUL_HTTP_TOKEN"
	EnvDatabaseURL = "DATABASE_URL"
	EnvBackend     = "FAMCAL_BACKEND"
	EnvCachePath   = "FAMCAL_CACHE_PATH"
	EnvListen      = "FAMCAL_LISTEN"
)

// ErrInvalid marks a configuration rejected by validation.
var ErrInvalid = errors.New("invalid configuration")

//go:embed schema.cue
var schemaCUE string

// Config is the top-level configuration.
type Config struct {
	// Backend selects the authority: local, memory, kv or relational.
	// Left empty, it is inferred from which credentials are present.
	Backend string `yaml:"backend" json:"backend"`

	// Listen is the HTTP address used by serve.
	Listen string `yaml:"listen" json:"listen"`

	// CachePath is the directory holding the fallback cache file.
	CachePath string `yaml:"cache_path" json:"cache_path"`

	// Timeout bounds each authoritative call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Strict surfaces writes rejected by a reachable authority as failures.
	Strict bool `yaml:"strict" json:"strict"`

	// Refresh is a cron schedule for re-reading the authority while
	// serving. Empty disables it.
	Refresh string `yaml:"refresh" json:"refresh"`

	// Members is the allow-list applied to event reads.
	Members []string `yaml:"members" json:"members"`

	KV         KVConfig         `yaml:"kv" json:"kv"`
	Relational RelationalConfig `yaml:"relational" json:"relational"`
}

// KVConfig configures the remote key-value authority.
type KVConfig struct {
	Driver  string `yaml:"driver" json:"driver"`
	URL     string `yaml:"url" json:"url"`         // rest
	Token   string `yaml:"token" json:"token"`     // rest and consul
	Address string `yaml:"address" json:"address"` // consul
	Prefix  string `yaml:"prefix" json:"prefix"`   // consul key prefix
	CAS     bool   `yaml:"cas" json:"cas"`
}

// RelationalConfig configures the relational authority.
type RelationalConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		CachePath: ".famcal",
		Timeout:   5 * time.Second,
		Refresh:   "*/5 * * * *",
		Members:   append([]string(nil), record.DefaultMembers...),
	}
}

// Load reads path from fsys, applies overrides from getenv and validates
// the result. A missing file yields the defaults. A nil getenv reads the
// process environment.
func Load(fsys afero.Fs, path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := afero.ReadFile(fsys, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(getenv)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.KV.URL, EnvKVURL)
	set(&c.KV.Address, EnvConsulAddr)
	set(&c.Relational.DSN, EnvDatabaseURL)
	set(&c.Backend, EnvBackend)
	set(&c.CachePath, EnvCachePath)
	set(&c.Listen, EnvListen)

	c.resolveDrivers()
	if c.KV.Driver == KVDriverConsul {
		set(&c.KV.Token, EnvConsulToken)
	} else {
		set(&c.KV.Token, EnvKVToken)
	}
}

// resolveDrivers fills unset drivers from the connection settings present.
func (c *Config) resolveDrivers() {
	if c.KV.Driver == "" {
		c.KV.Driver = KVDriverREST
		if c.KV.URL == "" && c.KV.Address != "" {
			c.KV.Driver = KVDriverConsul
		}
	}
	if c.Relational.Driver == "" {
		c.Relational.Driver = DriverForDSN(c.Relational.DSN)
	}
}

// normalize resolves the automatic backend and trims list entries.
func (c *Config) normalize() {
	c.resolveDrivers()
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == BackendAuto {
		switch {
		case c.KVConfigured():
			c.Backend = BackendKV
		case c.RelationalConfigured():
			c.Backend = BackendRelational
		default:
			c.Backend = BackendLocal
		}
	}
	members := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m = record.NormalizeTask(m); m != "" {
			members = append(members, m)
		}
	}
	c.Members = members
}

// KVConfigured reports whether the selected KV driver has what it needs to
// attempt a connection.
func (c *Config) KVConfigured() bool {
	switch c.KV.Driver {
	case KVDriverConsul:
		return c.KV.Address != ""
	default:
		return c.KV.URL != "" && c.KV.Token != ""
	}
}

// RelationalConfigured reports whether a database DSN is present.
func (c *Config) RelationalConfigured() bool {
	return c.Relational.DSN != ""
}

// Validate checks c against the embedded schema and the refresh schedule.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		msgs := make([]string, 0)
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}

	if c.Refresh != "" {
		if _, err := cron.ParseStandard(c.Refresh); err != nil {
			return fmt.Errorf("%w: refresh %q: %v", ErrInvalid, c.Refresh, err)
		}
	}
	return nil
}

// DriverForDSN picks the database/sql driver for dsn: postgres URLs and
// key=value strings go to lib/pq, everything else to sqlite3.
func DriverForDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}
