// Package sqlite implements the scheduler's queue and record store on a single
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the database.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path        string
	BusyTimeout time.Duration
	// Clock drives delays and leases. Defaults to time.Now.
	Clock func() time.Time
}

// DB is an open scheduler database.
type DB struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens or creates the database and applies migrations.
func Open(cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	d := &DB{db: db, clock: cfg.Clock}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, string(b))
	return err
}

// Queue returns the queue provider for a named queue.
func (d *DB) Queue(name string) *Queue {
	if name == "" {
		name = "default"
	}
	return &Queue{db: d.db, name: name, clock: d.clock}
}

// Store returns the record store provider.
func (d *DB) Store() *Store {
	return &Store{db: d.db, clock: d.clock}
}

// Health pings the database.
func (d *DB) Health() core.BackendHealth {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	var depth int64
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages`).Scan(&depth)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return core.BackendHealth{Type: "sqlite", Status: "degraded", LatencyMs: latency, Error: err.Error()}
	}
	return core.BackendHealth{Type: "sqlite", Status: "connected", LatencyMs: latency, QueueDepth: &depth}
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewTransientError(op, err)
}
