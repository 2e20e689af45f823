package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TryAdvisoryLock attempts a named, non-blocking session advisory lock.
// A failed acquisition means another replica already owns this unit of
// work — the caller should skip this tick, not wait.
//
// The lock is keyed by hashtext(name) and held on a dedicated pooled
// connection; release must happen on the same connection, which is what
// the returned func does (it also returns the connection to the pool).
func TryAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, name string) (release func(), acquired bool, err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn for advisory lock %q: %w", name, err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock %q: %w", name, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Best effort: the lock dies with the session anyway.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name)
		conn.Release()
	}
	return release, true, nil
}

// XactAdvisoryLock takes a blocking transaction-scoped advisory lock; it is
// released automatically at commit/rollback.
func XactAdvisoryLock(ctx context.Context, tx pgx.Tx, name string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("advisory xact lock %q: %w", name, err)
	}
	return nil
}
