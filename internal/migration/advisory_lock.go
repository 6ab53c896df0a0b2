package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	advisoryLockKey  int64 = 7_319_204_655
	advisoryLockName       = "bricli_schema_migration"
)

type unlockFunc func(ctx context.Context) error

// acquireAdvisoryLock serializes concurrent migrators on the same
// database. Postgres uses session advisory locks, MySQL uses GET_LOCK.
func acquireAdvisoryLock(ctx context.Context, db *sql.DB, dialect string) (unlockFunc, error) {
	if db == nil {
		return nil, errors.New("advisory lock requires database handle")
	}

	switch dialect {
	case "postgres":
		var locked bool
		if err := db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&locked); err != nil {
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil, errors.New("another migration process holds the advisory lock")
		}
		return func(unlockCtx context.Context) error {
			var released bool
			if err := db.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock($1)", advisoryLockKey).Scan(&released); err != nil {
				return fmt.Errorf("release advisory lock: %w", err)
			}
			if !released {
				return errors.New("advisory lock was not held by this session")
			}
			return nil
		}, nil

	case "mysql":
		var locked sql.NullInt64
		if err := db.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", advisoryLockName).Scan(&locked); err != nil {
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked.Valid || locked.Int64 != 1 {
			return nil, errors.New("another migration process holds the advisory lock")
		}
		return func(unlockCtx context.Context) error {
			var released sql.NullInt64
			if err := db.QueryRowContext(unlockCtx, "SELECT RELEASE_LOCK(?)", advisoryLockName).Scan(&released); err != nil {
				return fmt.Errorf("release advisory lock: %w", err)
			}
			return nil
		}, nil

	default:
		// sqlite and friends only ever run single-process.
		return func(context.Context) error { return nil }, nil
	}
}
