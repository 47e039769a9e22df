package store

import (
	"context"
	"fmt"
	"time"
)

// CheckAndRecordTOTPReplay is the database fallback for the TOTP replay
// guard (spec.md §4.E Invariant 4), used when Redis is unavailable. Returns
// true (and records the attempt) if (username, code) has not been used
// within window; returns false if it was already used.
func (s *Store) CheckAndRecordTOTPReplay(ctx context.Context, username, code string, window time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO totp_replay (username, code, first_use)
		VALUES ($1, $2, $3)
		ON CONFLICT (username, code) DO UPDATE SET first_use = excluded.first_use
		WHERE totp_replay.first_use < $4`,
		username, code, time.Now().UTC(), time.Now().UTC().Add(-window),
	)
	if err != nil {
		return false, fmt.Errorf("recording totp replay: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, nil
}

// CleanupExpiredTOTPReplays deletes replay rows past the window, run
// periodically (spec.md §4.M, original's cleanup_expired_totp_codes).
func (s *Store) CleanupExpiredTOTPReplays(ctx context.Context, window time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM totp_replay WHERE first_use < $1", time.Now().UTC().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("cleaning up totp replays: %w", err)
	}
	return tag.RowsAffected(), nil
}
