// Package state implements Engram's durable state store on SQLite: identifier
// counters, the pending-artifact buffer, dispatch lifecycle records, and the
// singleton server row.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// FileName is the store's filename inside the .engram directory.
const FileName = "state.db"

// Store wraps database operations for Engram.
type Store struct {
	db *sql.DB
}

// Open opens or creates the state store at the given path. Legacy singleton
// shapes are migrated in place, preserving fold_from.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	// file: URI form handles paths with spaces and query params.
	escapedPath := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escapedPath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	// Legacy key/value singleton must be rebuilt before the canonical
	// schema is applied, or the CREATE TABLE IF NOT EXISTS would keep the
	// old shape.
	legacyFoldFrom, hadLegacy, err := migrateLegacySingleton(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	if err := addColumns(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if hadLegacy && legacyFoldFrom != "" {
		ff := legacyFoldFrom
		if err := s.SetFoldFrom(context.Background(), &ff); err != nil {
			db.Close()
			return nil, fmt.Errorf("restore fold_from: %w", err)
		}
	}
	return s, nil
}

// migrateLegacySingleton detects the key/value server_state shape left behind
// by the old migration tool, reads fold_from out of it, and drops the table.
func migrateLegacySingleton(db *sql.DB) (foldFrom string, migrated bool, err error) {
	rows, err := db.Query("PRAGMA table_info(server_state)")
	if err != nil {
		return "", false, fmt.Errorf("inspect server_state: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return "", false, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	rows.Close()

	if len(cols) != 2 || cols[0] != "key" || cols[1] != "value" {
		return "", false, nil
	}

	var value sql.NullString
	err = db.QueryRow("SELECT value FROM server_state WHERE key = 'fold_from'").Scan(&value)
	if err != nil && err != sql.ErrNoRows {
		return "", false, fmt.Errorf("read legacy fold_from: %w", err)
	}
	if _, err := db.Exec("DROP TABLE server_state"); err != nil {
		return "", false, fmt.Errorf("drop legacy server_state: %w", err)
	}
	if value.Valid {
		foldFrom = value.String
	}
	return foldFrom, true, nil
}

// addColumns applies best-effort ADD COLUMN statements for columns introduced
// after the initial canonical schema.
func addColumns(db *sql.DB) error {
	for _, stmt := range []string{
		"ALTER TABLE server_state ADD COLUMN l0_regenerated_at TEXT",
		"ALTER TABLE dispatches ADD COLUMN prompt_path TEXT NOT NULL DEFAULT ''",
	} {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
