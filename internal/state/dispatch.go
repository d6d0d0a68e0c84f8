package state

import (
	"context"
	"database/sql"
	"fmt"
)

// Dispatch states. Terminal: committed, failed.
const (
	DispatchBuilding   = "building"
	DispatchDispatched = "dispatched"
	DispatchValidated  = "validated"
	DispatchCommitted  = "committed"
	DispatchRetry      = "retry"
	DispatchFailed     = "failed"
)

// MaxRetries bounds linter-driven re-invocations of the fold agent.
const MaxRetries = 2

// Dispatch is one fold-agent invocation record.
type Dispatch struct {
	ID         int64
	ChunkID    int64
	ChunkType  string
	InputPath  string
	PromptPath string
	State      string
	Retries    int
	CreatedAt  string
	UpdatedAt  string
}

// Terminal reports whether the dispatch reached a terminal state.
func (d *Dispatch) Terminal() bool {
	return d.State == DispatchCommitted || d.State == DispatchFailed
}

// BeginDispatch creates a new dispatch record in the building state. Chunk
// details are attached later, once the scheduler has produced them.
func (s *Store) BeginDispatch(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO dispatches (state, created_at, updated_at) VALUES (?, ?, ?)",
		DispatchBuilding, now(), now())
	if err != nil {
		return 0, fmt.Errorf("begin dispatch: %w", err)
	}
	return res.LastInsertId()
}

// SetDispatchChunkTx attaches the produced chunk to a building dispatch.
func SetDispatchChunkTx(tx *sql.Tx, id int64, chunkID int64, chunkType, inputPath, promptPath string) error {
	_, err := tx.Exec(
		"UPDATE dispatches SET chunk_id = ?, chunk_type = ?, input_path = ?, prompt_path = ?, updated_at = ? WHERE id = ?",
		chunkID, chunkType, inputPath, promptPath, now(), id)
	if err != nil {
		return fmt.Errorf("set dispatch chunk: %w", err)
	}
	return nil
}

// SetDispatchState transitions a dispatch record.
func (s *Store) SetDispatchState(ctx context.Context, id int64, st string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dispatches SET state = ?, updated_at = ? WHERE id = ?", st, now(), id)
	if err != nil {
		return fmt.Errorf("set dispatch state %s: %w", st, err)
	}
	return nil
}

// SetDispatchStateTx transitions a dispatch record inside a transaction.
func SetDispatchStateTx(tx *sql.Tx, id int64, st string) error {
	_, err := tx.Exec(
		"UPDATE dispatches SET state = ?, updated_at = ? WHERE id = ?", st, now(), id)
	if err != nil {
		return fmt.Errorf("set dispatch state %s: %w", st, err)
	}
	return nil
}

// IncDispatchRetries bumps the retry counter and returns the new value.
func (s *Store) IncDispatchRetries(ctx context.Context, id int64) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE dispatches SET retries = retries + 1, updated_at = ? WHERE id = ?", now(), id); err != nil {
		return 0, fmt.Errorf("bump retries: %w", err)
	}
	var retries int
	err := s.db.QueryRowContext(ctx, "SELECT retries FROM dispatches WHERE id = ?", id).Scan(&retries)
	return retries, err
}

// DeleteDispatch removes a record. Only used for building-state records,
// discarded when the scheduler refuses a dispatch or during crash recovery;
// terminal records are kept as history.
func (s *Store) DeleteDispatch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM dispatches WHERE id = ?", id)
	return err
}

// GetDispatch reads one dispatch record.
func (s *Store) GetDispatch(ctx context.Context, id int64) (*Dispatch, error) {
	return s.scanDispatch(s.db.QueryRowContext(ctx,
		"SELECT id, chunk_id, chunk_type, input_path, prompt_path, state, retries, created_at, updated_at FROM dispatches WHERE id = ?", id))
}

// NonTerminalDispatches lists records not in a terminal state, oldest first.
// The single-in-flight invariant means there is at most one, but recovery
// lists rather than assumes.
func (s *Store) NonTerminalDispatches(ctx context.Context) ([]Dispatch, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chunk_id, chunk_type, input_path, prompt_path, state, retries, created_at, updated_at FROM dispatches WHERE state NOT IN (?, ?) ORDER BY id",
		DispatchCommitted, DispatchFailed)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal dispatches: %w", err)
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		d, err := scanDispatchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// LastDispatch returns the most recent dispatch record, or nil.
func (s *Store) LastDispatch(ctx context.Context) (*Dispatch, error) {
	d, err := s.scanDispatch(s.db.QueryRowContext(ctx,
		"SELECT id, chunk_id, chunk_type, input_path, prompt_path, state, retries, created_at, updated_at FROM dispatches ORDER BY id DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispatchRow(r rowScanner) (*Dispatch, error) {
	var d Dispatch
	var chunkID sql.NullInt64
	var chunkType sql.NullString
	if err := r.Scan(&d.ID, &chunkID, &chunkType, &d.InputPath, &d.PromptPath,
		&d.State, &d.Retries, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ChunkID = chunkID.Int64
	d.ChunkType = chunkType.String
	return &d, nil
}

func (s *Store) scanDispatch(row *sql.Row) (*Dispatch, error) {
	return scanDispatchRow(row)
}

