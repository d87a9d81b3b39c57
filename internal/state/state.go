// Package state persists the daemon's durable state: the watched roots
// and their trigger definitions, so both survive a daemon restart. The
// file trees themselves are deliberately not stored.
package state

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vigil-watch/vigil/internal/wire"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// RootState is the saved form of one watched root.
type RootState struct {
	Path     string
	Triggers []map[string]any
}

// Snapshot is the full saved state.
type Snapshot struct {
	Roots []RootState
}

// Store provides durable storage for daemon state.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the state database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent; safe to call on an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
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

// Save atomically replaces the stored state with the snapshot.
func (s *Store) Save(snap Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM triggers`); err != nil {
		return fmt.Errorf("failed to clear triggers: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM roots`); err != nil {
		return fmt.Errorf("failed to clear roots: %w", err)
	}

	for _, r := range snap.Roots {
		if _, err := tx.Exec(`INSERT INTO roots (path) VALUES (?)`, r.Path); err != nil {
			return fmt.Errorf("failed to save root %s: %w", r.Path, err)
		}
		for _, def := range r.Triggers {
			name, _ := def["name"].(string)
			enc, err := wire.MarshalCanonical(def)
			if err != nil {
				return fmt.Errorf("failed to encode trigger %s: %w", name, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO triggers (root, name, definition) VALUES (?, ?, ?)`,
				r.Path, name, string(enc),
			); err != nil {
				return fmt.Errorf("failed to save trigger %s: %w", name, err)
			}
		}
	}

	return tx.Commit()
}

// Load reads the saved state. An empty database yields an empty
// snapshot.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot

	rows, err := s.db.Query(`SELECT path FROM roots ORDER BY path`)
	if err != nil {
		return snap, fmt.Errorf("failed to load roots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r RootState
		if err := rows.Scan(&r.Path); err != nil {
			return snap, err
		}
		snap.Roots = append(snap.Roots, r)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	for i := range snap.Roots {
		triggers, err := s.loadTriggers(snap.Roots[i].Path)
		if err != nil {
			return snap, err
		}
		snap.Roots[i].Triggers = triggers
	}
	return snap, nil
}

func (s *Store) loadTriggers(rootPath string) ([]map[string]any, error) {
	rows, err := s.db.Query(
		`SELECT definition FROM triggers WHERE root = ? ORDER BY name`, rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load triggers for %s: %w", rootPath, err)
	}
	defer rows.Close()

	var defs []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var def map[string]any
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("corrupt trigger definition under %s: %w", rootPath, err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}
