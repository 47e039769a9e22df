package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSystemState reads a key-value system flag (spec.md §3). Returns ("",
// false) if unset.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, "SELECT value FROM system_state WHERE key = $1", key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getting system state %s: %w", key, err)
	}
	return value, true, nil
}

// SetSystemState upserts a key-value system flag.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting system state %s: %w", key, err)
	}
	return nil
}

// DeleteSystemState removes a key, used when clearing auto_paused.
func (s *Store) DeleteSystemState(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM system_state WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("deleting system state %s: %w", key, err)
	}
	return nil
}

// IsPaused reports the operator pause flag (manual or auto).
func (s *Store) IsPaused(ctx context.Context) (bool, error) {
	v, ok, err := s.GetSystemState(ctx, StateKeyPaused)
	if err != nil {
		return false, err
	}
	if ok && v == "true" {
		return true, nil
	}

	v, ok, err = s.GetSystemState(ctx, StateKeyAutoPaused)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}
