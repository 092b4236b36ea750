package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TryAcquireLock takes the named lock for owner if it is free or expired.
func (s *Store) TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	var holder string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shop_locks (key, owner, expires_at)
		VALUES ($1, $2, NOW() + ($3 * INTERVAL '1 millisecond'))
		ON CONFLICT (key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE shop_locks.expires_at <= NOW() OR shop_locks.owner = EXCLUDED.owner
		RETURNING owner
	`, key, owner, ttl.Milliseconds()).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holder == owner, nil
}

// ReleaseLock drops the named lock only if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM shop_locks WHERE key = $1 AND owner = $2", key, owner)
	return err
}

// IncrWindow increments the fixed-window counter for key and returns the new count.
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_windows (key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key, window_start) DO UPDATE
		SET count = rate_windows.count + 1
		RETURNING count
	`, key, window).Scan(&count)
	return count, err
}

// PruneRateWindows removes counters for windows that started before cutoff.
func (s *Store) PruneRateWindows(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rate_windows WHERE window_start < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
