package state

import (
	"context"
	"database/sql"
	"fmt"
)

// Identifier categories. Chunk sequence numbers share the counter mechanism
// so that chunk ids get the same never-reused monotonic discipline.
const (
	CategoryConcept  = "C"
	CategoryClaim    = "E"
	CategoryWorkflow = "W"
	CategoryChunk    = "chunk"
)

// EntryCategories are the categories of living-doc entry identifiers.
var EntryCategories = []string{CategoryConcept, CategoryClaim, CategoryWorkflow}

// ReserveIDsTx reserves k identifiers for a category inside tx and returns
// the half-open range [lo, hi). The counter is bumped atomically; reserved
// ids are never handed out again, used or not.
func ReserveIDsTx(tx *sql.Tx, category string, k int) (lo, hi int, err error) {
	if k < 0 {
		return 0, 0, fmt.Errorf("reserve %d ids: negative count", k)
	}
	var next int
	err = tx.QueryRow("SELECT next_id FROM counters WHERE category = ?", category).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		if _, err = tx.Exec("INSERT INTO counters (category, next_id) VALUES (?, 1)", category); err != nil {
			return 0, 0, fmt.Errorf("init counter %s: %w", category, err)
		}
	} else if err != nil {
		return 0, 0, fmt.Errorf("read counter %s: %w", category, err)
	}

	if _, err = tx.Exec("UPDATE counters SET next_id = ? WHERE category = ?", next+k, category); err != nil {
		return 0, 0, fmt.Errorf("bump counter %s: %w", category, err)
	}
	return next, next + k, nil
}

// ReserveIDs reserves k identifiers in a standalone transaction.
func (s *Store) ReserveIDs(ctx context.Context, category string, k int) (lo, hi int, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		lo, hi, err = ReserveIDsTx(tx, category, k)
		return err
	})
	return lo, hi, err
}

// BumpCounterFloorTx raises the counter so the next reservation starts at or
// above minNext. Counters never move backwards.
func BumpCounterFloorTx(tx *sql.Tx, category string, minNext int) error {
	if minNext < 1 {
		return nil
	}
	var next int
	err := tx.QueryRow("SELECT next_id FROM counters WHERE category = ?", category).Scan(&next)
	if err == sql.ErrNoRows {
		_, err = tx.Exec("INSERT INTO counters (category, next_id) VALUES (?, ?)", category, minNext)
		if err != nil {
			return fmt.Errorf("init counter %s: %w", category, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read counter %s: %w", category, err)
	}
	if minNext > next {
		if _, err := tx.Exec("UPDATE counters SET next_id = ? WHERE category = ?", minNext, category); err != nil {
			return fmt.Errorf("bump counter %s: %w", category, err)
		}
	}
	return nil
}

// BumpCounterFloor raises a counter floor in a standalone transaction.
func (s *Store) BumpCounterFloor(ctx context.Context, category string, minNext int) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return BumpCounterFloorTx(tx, category, minNext)
	})
}

// NextID returns the current next_id for a category without reserving.
func (s *Store) NextID(ctx context.Context, category string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, "SELECT next_id FROM counters WHERE category = ?", category).Scan(&next)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", category, err)
	}
	return next, nil
}
