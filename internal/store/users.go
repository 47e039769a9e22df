package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// CreateUser inserts a new user row. Returns Conflict if the username exists.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, password_hash, totp_secret_encrypted, enabled, is_temporary, password_change_required, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.Username, u.PasswordHash, nilIfEmpty(u.TOTPSecretEncrypted), u.Enabled, u.IsTemporary, u.PasswordChangeRequired, orNow(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.Conflict, "user %q already exists", u.Username)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetUser fetches a user by username, including granted permissions.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT username, password_hash, totp_secret_encrypted, enabled, is_temporary,
		       password_change_required, created_at, last_login
		FROM users WHERE username = $1`,
		username,
	).Scan(&u.Username, &u.PasswordHash, &u.TOTPSecretEncrypted, &u.Enabled, &u.IsTemporary,
		&u.PasswordChangeRequired, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}

	perms, err := s.ListPermissions(ctx, username)
	if err != nil {
		return nil, err
	}
	u.Permissions = perms

	return &u, nil
}

// ListUsers returns every user, permissions included.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, password_hash, totp_secret_encrypted, enabled, is_temporary,
		       password_change_required, created_at, last_login
		FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.TOTPSecretEncrypted, &u.Enabled, &u.IsTemporary,
			&u.PasswordChangeRequired, &u.CreatedAt, &u.LastLogin); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		perms, err := s.ListPermissions(ctx, u.Username)
		if err != nil {
			return nil, err
		}
		u.Permissions = perms
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateUser rewrites the mutable fields of a user row.
func (s *Store) UpdateUser(ctx context.Context, u User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash=$2, totp_secret_encrypted=$3, enabled=$4, is_temporary=$5,
		       password_change_required=$6, last_login=$7
		WHERE username=$1`,
		u.Username, u.PasswordHash, nilIfEmpty(u.TOTPSecretEncrypted), u.Enabled, u.IsTemporary,
		u.PasswordChangeRequired, u.LastLogin,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

// DeleteUser removes a user and its permissions/sessions.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE username=$1", username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

// DisableUser flips enabled=false for a user, used to retire the temporary
// bootstrap admin once initial setup completes (spec.md §4.E).
func (s *Store) DisableUser(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE users SET enabled=false WHERE username=$1", username)
	if err != nil {
		return fmt.Errorf("disabling user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

// TouchLastLogin stamps last_login=now() for a user.
func (s *Store) TouchLastLogin(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, "UPDATE users SET last_login=$2 WHERE username=$1", username, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touching last_login: %w", err)
	}
	return nil
}

// GrantPermission adds a capability string to a user (idempotent — spec.md §3).
func (s *Store) GrantPermission(ctx context.Context, username, permission string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO permissions (username, permission) VALUES ($1, $2)
		ON CONFLICT (username, permission) DO NOTHING`,
		username, permission,
	)
	if err != nil {
		return fmt.Errorf("granting permission: %w", err)
	}
	return nil
}

// RevokePermission removes a capability string from a user (idempotent).
func (s *Store) RevokePermission(ctx context.Context, username, permission string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM permissions WHERE username=$1 AND permission=$2", username, permission)
	if err != nil {
		return fmt.Errorf("revoking permission: %w", err)
	}
	return nil
}

// ListPermissions returns the capability strings granted to username.
func (s *Store) ListPermissions(ctx context.Context, username string) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT permission FROM permissions WHERE username=$1 ORDER BY permission", username)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasPermission reports whether username holds permission.
func (s *Store) HasPermission(ctx context.Context, username, permission string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM permissions WHERE username=$1 AND permission=$2)",
		username, permission,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking permission: %w", err)
	}
	return exists, nil
}

// CleanupExpiredTemporaryUsers disables (does not delete) temporary users
// whose 24h setup deadline has passed, per spec.md §3's "User" lifecycle note.
// Returns the usernames affected.
func (s *Store) CleanupExpiredTemporaryUsers(ctx context.Context, deadline time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE users SET enabled=false
		WHERE is_temporary=true AND enabled=true AND created_at < $1
		RETURNING username`,
		time.Now().UTC().Add(-deadline),
	)
	if err != nil {
		return nil, fmt.Errorf("cleaning up expired temporary users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning username: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
