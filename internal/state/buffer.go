package state

import (
	"context"
	"database/sql"
	"fmt"
)

// BufferItem is one pending artifact awaiting dispatch.
type BufferItem struct {
	ID        int64
	Path      string
	Kind      string
	Chars     int
	Date      string // YYYY-MM-DD
	DriftType string // empty unless Kind is a drift marker
}

// AppendBuffer inserts a pending artifact and updates the running total.
func (s *Store) AppendBuffer(ctx context.Context, item BufferItem) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var drift any
		if item.DriftType != "" {
			drift = item.DriftType
		}
		if _, err := tx.Exec(
			"INSERT INTO buffer (path, kind, chars, date, drift_type, added_at) VALUES (?, ?, ?, ?, ?, ?)",
			item.Path, item.Kind, item.Chars, item.Date, drift, now(),
		); err != nil {
			return fmt.Errorf("append buffer: %w", err)
		}
		_, err := tx.Exec("UPDATE server_state SET buffer_chars = buffer_chars + ? WHERE id = 1", item.Chars)
		return err
	})
}

// BufferItems lists pending artifacts in date order.
func (s *Store) BufferItems(ctx context.Context) ([]BufferItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, path, kind, chars, date, drift_type FROM buffer ORDER BY date, path")
	if err != nil {
		return nil, fmt.Errorf("list buffer: %w", err)
	}
	defer rows.Close()

	var items []BufferItem
	for rows.Next() {
		var it BufferItem
		var drift sql.NullString
		if err := rows.Scan(&it.ID, &it.Path, &it.Kind, &it.Chars, &it.Date, &drift); err != nil {
			return nil, err
		}
		it.DriftType = drift.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// ConsumeBufferThroughTx removes every buffered item dated on or before date
// and decrements the running total, inside the caller's transaction. Returns
// the number of characters consumed.
func ConsumeBufferThroughTx(tx *sql.Tx, date string) (int, error) {
	var chars sql.NullInt64
	if err := tx.QueryRow("SELECT SUM(chars) FROM buffer WHERE date <= ?", date).Scan(&chars); err != nil {
		return 0, fmt.Errorf("sum buffer: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM buffer WHERE date <= ?", date); err != nil {
		return 0, fmt.Errorf("consume buffer: %w", err)
	}
	if _, err := tx.Exec(
		"UPDATE server_state SET buffer_chars = MAX(0, buffer_chars - ?) WHERE id = 1",
		chars.Int64,
	); err != nil {
		return 0, err
	}
	return int(chars.Int64), nil
}

// BufferTotal returns the persisted total of pending characters.
func (s *Store) BufferTotal(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT buffer_chars FROM server_state WHERE id = 1").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("read buffer total: %w", err)
	}
	return total, nil
}
