package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/paynow/approval-server/internal/database"
)

// getOne runs a single-row query into a fresh T. No row is (nil, nil), so
// Find* methods can report absence without an error.
func getOne[T any](ctx context.Context, db database.DBTX, query string, args ...any) (*T, error) {
	var out T
	err := db.GetContext(ctx, &out, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &out, nil
}
