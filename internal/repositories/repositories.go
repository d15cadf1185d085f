// package repositories provides persistence layer implementations for cached models.
//
// Each repository implements models.Repository[T] for one cache table, with soft deletes and a
// per-table sequence counter stored in {table}_sequence.
package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

// NextSequence increments the counter in {table}_sequence and returns the new value.
func NextSequence(db *sql.DB, table string) (int, error) {
	var sequence int
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)
	if err := db.QueryRow(query).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to increment %s sequence: %w", table, err)
	}
	return sequence, nil
}

// softDelete stamps deleted_at on a live row and reports [shared.ErrSessionNotFound] when none matched.
func softDelete(db *sql.DB, table, id string) error {
	query := fmt.Sprintf("UPDATE %s SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL", table)

	result, err := db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	return nil
}
