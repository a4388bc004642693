package relational

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial tables
// 1 - Added index on events(date, time)
const currentSchemaVersion = 1

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Provider is the relational provider.
//
// Thread-safety: safe for concurrent use. Single-row upserts are atomic;
// the lazy bootstrap is serialized on an internal mutex.
type Provider struct {
	db     *sql.DB
	driver string
	gen    ident.Generator
	filter record.MemberFilter
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithGenerator sets the ID generator. Default: ident.UUIDv7Generator.
func WithGenerator(g ident.Generator) Option {
	return func(p *Provider) {
		p.gen = g
	}
}

// WithMemberFilter sets the read-time allow-list. Default: everyone.
func WithMemberFilter(f record.MemberFilter) Option {
	return func(p *Provider) {
		p.filter = f
	}
}

// WithClock overrides the time source for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// Open creates a provider for the database at dsn.
// No connection is made until the first operation.
func Open(driver, dsn string, opts ...Option) (*Provider, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("open database: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return New(db, driver, opts...), nil
}

// New wraps an open database handle.
func New(db *sql.DB, driver string, opts ...Option) *Provider {
	p := &Provider{
		db:     db,
		driver: driver,
		gen:    ident.UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close closes the database connection.
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (p *Provider) DB() *sql.DB {
	return p.db
}

// ensure bootstraps the database on first use.
func (p *Provider) ensure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	if p.driver == DriverSQLite {
		if err := applyPragmas(ctx, p.db); err != nil {
			return provider.Classify(provider.BackendRelational, "bootstrap", err)
		}
	}
	if err := p.applySchema(ctx); err != nil {
		return provider.Classify(provider.BackendRelational, "bootstrap", err)
	}
	if err := p.seed(ctx); err != nil {
		return provider.Classify(provider.BackendRelational, "bootstrap", err)
	}

	p.ready = true
	p.logger.Debug("relational schema ready", "driver", p.driver, "version", currentSchemaVersion)
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func (p *Provider) applySchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := p.runMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on famcal_schema.version.
func (p *Provider) runMigrations(ctx context.Context) error {
	var version int
	err := p.db.QueryRowContext(ctx, "SELECT version FROM famcal_schema").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if version < 1 {
		if err := migrateToV1(ctx, tx); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM famcal_schema"); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, p.rebind("INSERT INTO famcal_schema (version) VALUES (?)"), currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// migrateToV1 indexes events by date and time, the read order.
func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_events_date_time
		ON events(date, time)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// seed inserts the bootstrap rows into each table that is empty.
func (p *Provider) seed(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stamp := p.stamp()

	var events int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&events); err != nil {
		return fmt.Errorf("seed: count events: %w", err)
	}
	if events == 0 {
		for _, e := range record.BootstrapEvents() {
			if _, err := tx.ExecContext(ctx, p.rebind(insertEventSQL), e.ID, e.Date, e.Time, e.Task, e.Member, stamp, stamp); err != nil {
				return fmt.Errorf("seed: insert event %s: %w", e.ID, err)
			}
		}
		p.logger.Info("seeded events table", "rows", len(record.BootstrapEvents()))
	}

	var tasks int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&tasks); err != nil {
		return fmt.Errorf("seed: count tasks: %w", err)
	}
	if tasks == 0 {
		for _, name := range record.BootstrapTasks() {
			if _, err := tx.ExecContext(ctx, p.rebind(insertTaskSQL), name, stamp); err != nil {
				return fmt.Errorf("seed: insert task %s: %w", name, err)
			}
		}
		p.logger.Info("seeded tasks table", "rows", len(record.BootstrapTasks()))
	}

	return tx.Commit()
}

func (p *Provider) stamp() string {
	return p.now().UTC().Format(time.RFC3339)
}

// rebind converts "?" placeholders to the dialect's form.
func (p *Provider) rebind(query string) string {
	if p.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation reports whether err is a uniqueness constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
