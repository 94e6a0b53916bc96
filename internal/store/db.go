// Package store provides the relational persistence for scenarist using SQLite.
// It owns the actions queue, users, user states and the file cache tables.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const (
	// DriverModernc is the pure-Go SQLite driver.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo SQLite driver.
	DriverMattn = "sqlite3"
)

// Config holds database settings.
type Config struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
	WAL           bool   `mapstructure:"wal"`
}

// DefaultConfig returns the default database settings.
func DefaultConfig() Config {
	return Config{
		Driver:        DriverModernc,
		Path:          filepath.Join("data", "scenarist.db"),
		BusyTimeoutMs: 5000,
		WAL:           true,
	}
}

// DB wraps the SQL handle together with the clock used for timestamp columns.
// All access goes through a single connection: SQLite serializes writers anyway
// and ":memory:" databases are per-connection.
type DB struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens (and migrates) the database described by cfg.
func Open(cfg Config, clock timeutil.Clock) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverMattn {
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if !isMemory(cfg.Path) {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA foreign_keys=OFF"}
	if cfg.BusyTimeoutMs > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMs))
	}
	if cfg.WAL && !isMemory(cfg.Path) {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set database pragma %q: %w", p, err)
		}
	}

	if clock == nil {
		clock, _ = timeutil.NewSystemClock("")
	}

	d := &DB{db: db, path: cfg.Path, clock: clock}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return d, nil
}

// OpenMemory opens a private in-memory database. Used by tests.
func OpenMemory(clock timeutil.Clock) (*DB, error) {
	return Open(Config{Driver: DriverModernc, Path: ":memory:"}, clock)
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close closes the database connection and releases resources.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Clock returns the clock used for timestamp columns.
func (d *DB) Clock() timeutil.Clock { return d.clock }

// Ping verifies the connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Vacuum rebuilds the database file to reclaim space.
func (d *DB) Vacuum(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	logging.WithComponent("store").Info("Database vacuumed")
	return nil
}

// Checkpoint flushes the WAL into the main database file.
func (d *DB) Checkpoint(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (d *DB) now() string {
	return timeutil.FormatDB(d.clock.Now(), d.clock.Location())
}

func (d *DB) formatTime(t time.Time) string {
	return timeutil.FormatDB(t, d.clock.Location())
}

func (d *DB) parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := timeutil.ParseDB(s.String, d.clock.Location())
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d *DB) parseTimePtr(s sql.NullString) *time.Time {
	t := d.parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// withTx runs fn inside a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
