package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migration is one additive schema step. Version is the user_version the
// database carries once the step has committed.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered schema history, loaded from migrations/NNNN_name.sql.
//
// Schema version tracking:
// 1 - collections, mutations, settings
// 2 - id_map translation table, parent index
// 3 - sync_leases
// 4 - per-record retry state (attempts, backoff, needs-review, synced_at, remote_id)
var migrations = mustLoadMigrations()

// CurrentSchemaVersion is the user_version of a fully migrated database.
var CurrentSchemaVersion = len(migrations)

// Store provides durable storage for mutation records.
// Uses SQLite with WAL mode and a single connection (single writer).
//
// All methods are safe for concurrent use; database/sql serializes access to
// the one connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and migrates it to
// CurrentSchemaVersion.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	return openWithMigrations(context.Background(), path, migrations)
}

// OpenContext is Open with a caller-supplied context for the migration phase.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	return openWithMigrations(ctx, path, migrations)
}

func openWithMigrations(ctx context.Context, path string, steps []migration) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, wrap("open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrap("open", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, wrap("open", err)
	}

	if err := runMigrations(ctx, db, steps); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion returns the database's user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	v, err := userVersion(ctx, s.db)
	if err != nil {
		return 0, wrap("schema version", err)
	}
	return v, nil
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

func userVersion(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// runMigrations applies every step above the database's user_version.
//
// Each step commits in its own transaction together with the user_version
// bump, so a failing step leaves the database at the previous version with
// every existing row in place. Steps are additive only.
func runMigrations(ctx context.Context, db *sql.DB, steps []migration) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return &SchemaUpgradeError{From: -1, To: len(steps), Err: err}
	}

	if version > len(steps) {
		return &SchemaUpgradeError{
			From: version,
			To:   len(steps),
			Err:  fmt.Errorf("database schema is newer than this binary supports"),
		}
	}

	for _, step := range steps {
		if step.Version <= version {
			continue
		}
		if err := applyMigration(ctx, db, step); err != nil {
			return &SchemaUpgradeError{From: version, To: step.Version, Step: step.Name, Err: err}
		}
		version = step.Version
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, step migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return err
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.Version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

func mustLoadMigrations() []migration {
	steps, err := loadMigrations(migrationFS, "migrations")
	if err != nil {
		panic(fmt.Sprintf("store: load migrations: %v", err))
	}
	return steps
}

// loadMigrations reads NNNN_name.sql files. Versions must be contiguous from 1.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var steps []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("%s: expected NNNN_name.sql", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("%s: bad version: %w", e.Name(), err)
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		steps = append(steps, migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	for i, step := range steps {
		if step.Version != i+1 {
			return nil, fmt.Errorf("migration versions not contiguous at %d (%s)", step.Version, step.Name)
		}
	}
	return steps, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
