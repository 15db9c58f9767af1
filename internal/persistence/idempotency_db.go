package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresIdempotencyChecker implements DB-based deduplication against
// the command log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate reports whether (kind, commandID) is already in the command log.
func (pic *PostgresIdempotencyChecker) IsDuplicate(kind string, commandID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.commands
		WHERE kind = $1 AND command_id = $2
		LIMIT 1
	`, kind, commandID).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LoadRecentKeys returns the composite keys of the newest commands, oldest
// first, for warming the in-memory LRU.
func (pic *PostgresIdempotencyChecker) LoadRecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT kind, command_id FROM (
			SELECT sequence, kind, command_id
			FROM event_log.commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var (
			kind string
			id   uuid.UUID
		)
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		keys = append(keys, kind+":"+id.String())
	}
	return keys, rows.Err()
}
