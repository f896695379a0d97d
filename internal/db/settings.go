package db

import (
	"context"
	"database/sql"
	"fmt"
)

// GetConfigInt reads one integer value from app_config. A missing key is
// not an error — callers treat absent amounts as "feature off".
func (db *DB) GetConfigInt(ctx context.Context, key string) (int, bool, error) {
	var value int
	err := db.QueryRowContext(ctx,
		`SELECT value FROM app_config WHERE key = $1`, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get config %q: %w", key, err)
	}

	return value, true, nil
}
