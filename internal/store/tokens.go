package store

import (
	"context"
	"fmt"
	"time"
)

// RetireToken records that a refresh token digest has been rotated away.
// Recording the same digest twice is a no-op.
func (s *Store) RetireToken(ctx context.Context, digest, account string) error {
	if digest == "" {
		return fmt.Errorf("retire token: digest is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retired_tokens (digest, account, retired_at) VALUES (?, ?, ?)
         ON CONFLICT(digest) DO NOTHING`,
		digest, account, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("retire token: %w", err)
	}
	return nil
}

// IsRetired reports whether a refresh token digest was previously rotated away.
func (s *Store) IsRetired(ctx context.Context, digest string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM retired_tokens WHERE digest = ?`, digest,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup retired token: %w", err)
	}
	return count > 0, nil
}

// PruneRetired removes digests retired before cutoff.
func (s *Store) PruneRetired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retired_tokens WHERE retired_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune retired tokens: %w", err)
	}
	return res.RowsAffected()
}
