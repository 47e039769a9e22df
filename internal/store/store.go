package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the pgx-backed implementation of the Store component.
// Concurrency contract (spec.md §4.A): AssignNextChallenge/CompleteChallenge
// serialize via a Postgres advisory transaction lock; every other operation
// runs concurrently against the pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an existing pgx pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// assignmentLockKey is the advisory-lock key used to serialize the
// assign_next_challenge transaction, mirroring the original's single
// `BEGIN IMMEDIATE` SQLite transaction (spec.md §4.A, §5).
const assignmentLockKey = 0x63746c5f61736e // "ctl_asn" ascii-ish, arbitrary constant

// withAssignmentLock runs fn inside a transaction holding a Postgres
// transaction-scoped advisory lock, so at most one assignment transaction
// executes at a time across the whole process (and across replicas sharing
// the same database, unlike a Go-level mutex).
func (s *Store) withAssignmentLock(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(assignmentLockKey)); err != nil {
		return fmt.Errorf("acquiring assignment lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Bootstrap creates a disabled default admin with a random password and sets
// initial_setup_required=true if no users exist yet (spec.md §4.A's
// "Initial-bootstrap hook"). Returns the generated password, or "" if a user
// already existed.
func (s *Store) Bootstrap(ctx context.Context, hashPassword func(string) (string, error)) (string, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM users").Scan(&count); err != nil {
		return "", fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	password, err := randomPassword()
	if err != nil {
		return "", err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (username, password_hash, enabled, is_temporary, password_change_required, created_at)
		VALUES ('admin', $1, false, true, true, now())`,
		hash,
	)
	if err != nil {
		return "", fmt.Errorf("creating bootstrap user: %w", err)
	}

	if err := s.SetSystemState(ctx, StateKeyInitialSetupRequired, "true"); err != nil {
		return "", err
	}

	return password, nil
}

func randomPassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
