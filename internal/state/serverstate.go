package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ServerState is the singleton server row.
type ServerState struct {
	LastCommit      string
	LastDispatchAt  time.Time
	BufferChars     int
	FoldFrom        string // empty when unset
	L0Stale         bool
	L0RegeneratedAt time.Time
}

// ServerState reads the singleton row.
func (s *Store) ServerState(ctx context.Context) (*ServerState, error) {
	var st ServerState
	var lastDispatch, foldFrom, l0At sql.NullString
	var stale int
	err := s.db.QueryRowContext(ctx,
		"SELECT last_commit, last_dispatch_at, buffer_chars, fold_from, l0_stale, l0_regenerated_at FROM server_state WHERE id = 1").
		Scan(&st.LastCommit, &lastDispatch, &st.BufferChars, &foldFrom, &stale, &l0At)
	if err != nil {
		return nil, fmt.Errorf("read server state: %w", err)
	}
	st.FoldFrom = foldFrom.String
	st.L0Stale = stale != 0
	if lastDispatch.Valid {
		st.LastDispatchAt, _ = time.Parse(time.RFC3339, lastDispatch.String)
	}
	if l0At.Valid {
		st.L0RegeneratedAt, _ = time.Parse(time.RFC3339, l0At.String)
	}
	return &st, nil
}

// SetFoldFrom sets or clears (nil) the fold-from marker.
func (s *Store) SetFoldFrom(ctx context.Context, date *string) error {
	var v any
	if date != nil && *date != "" {
		v = *date
	}
	_, err := s.db.ExecContext(ctx, "UPDATE server_state SET fold_from = ? WHERE id = 1", v)
	if err != nil {
		return fmt.Errorf("set fold_from: %w", err)
	}
	return nil
}

// SetL0Stale sets the briefing staleness flag.
func (s *Store) SetL0Stale(ctx context.Context, stale bool) error {
	_, err := s.db.ExecContext(ctx, "UPDATE server_state SET l0_stale = ? WHERE id = 1", boolInt(stale))
	if err != nil {
		return fmt.Errorf("set l0_stale: %w", err)
	}
	return nil
}

// SetL0StaleTx sets the staleness flag inside the caller's transaction.
func SetL0StaleTx(tx *sql.Tx, stale bool) error {
	_, err := tx.Exec("UPDATE server_state SET l0_stale = ? WHERE id = 1", boolInt(stale))
	if err != nil {
		return fmt.Errorf("set l0_stale: %w", err)
	}
	return nil
}

// SetLastCommit records the git poll cursor.
func (s *Store) SetLastCommit(ctx context.Context, sha string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE server_state SET last_commit = ? WHERE id = 1", sha)
	return err
}

// SetLastDispatchAt records when a dispatch last ran.
func (s *Store) SetLastDispatchAt(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE server_state SET last_dispatch_at = ? WHERE id = 1", t.UTC().Format(time.RFC3339))
	return err
}

// SetL0RegeneratedAt records when the briefing was last regenerated.
func (s *Store) SetL0RegeneratedAt(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE server_state SET l0_regenerated_at = ? WHERE id = 1", t.UTC().Format(time.RFC3339))
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
