package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// CreateSession inserts a new session row (spec.md §3 Invariant 4: a
// successful login produces exactly one new Session row).
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (token, username, expires_utc, totp_verified, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sess.Token, sess.Username, sess.ExpiresUTC, sess.TOTPVerified, orNow(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession fetches a session by token.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT token, username, expires_utc, totp_verified, created_at
		FROM sessions WHERE token=$1`,
		token,
	).Scan(&sess.Token, &sess.Username, &sess.ExpiresUTC, &sess.TOTPVerified, &sess.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.AuthInvalid, "session not found")
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

// SlideSession extends expires_utc to now+maxAge on every authenticated
// request (spec.md §3, "Sliding" invariant).
func (s *Store) SlideSession(ctx context.Context, token string, maxAge time.Duration) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE sessions SET expires_utc=$2 WHERE token=$1",
		token, time.Now().UTC().Add(maxAge),
	)
	if err != nil {
		return fmt.Errorf("sliding session: %w", err)
	}
	return nil
}

// VerifySessionTOTP flips totp_verified=true after a successful verify-totp call.
func (s *Store) VerifySessionTOTP(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE sessions SET totp_verified=true WHERE token=$1", token)
	if err != nil {
		return fmt.Errorf("verifying session totp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.AuthInvalid, "session not found")
	}
	return nil
}

// DeleteSession deletes exactly one session row (logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token=$1", token)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteOtherSessions deletes every session for username except keepToken,
// used by password change / admin reset (spec.md §4.E).
func (s *Store) DeleteOtherSessions(ctx context.Context, username, keepToken string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE username=$1 AND token<>$2", username, keepToken)
	if err != nil {
		return fmt.Errorf("deleting other sessions: %w", err)
	}
	return nil
}

// DeleteAllSessions deletes every session for username.
func (s *Store) DeleteAllSessions(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE username=$1", username)
	if err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes every session past expiry (spec.md §4.A).
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_utc < $1", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Pending setup (two-step temp-user setup, spec.md §4.E) ---

// PutPendingSetup stashes proposed credentials for complete_setup/verify_setup.
func (s *Store) PutPendingSetup(ctx context.Context, p PendingSetup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_setups (session_token, username, new_password_hash, proposed_totp_secret, expires_utc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_token) DO UPDATE SET
			username=excluded.username,
			new_password_hash=excluded.new_password_hash,
			proposed_totp_secret=excluded.proposed_totp_secret,
			expires_utc=excluded.expires_utc`,
		p.SessionToken, p.Username, p.NewPasswordHash, p.ProposedTOTPSecret, p.ExpiresUTC,
	)
	if err != nil {
		return fmt.Errorf("storing pending setup: %w", err)
	}
	return nil
}

// GetPendingSetup retrieves a non-expired pending setup by session token.
func (s *Store) GetPendingSetup(ctx context.Context, sessionToken string) (*PendingSetup, error) {
	var p PendingSetup
	err := s.pool.QueryRow(ctx, `
		SELECT session_token, username, new_password_hash, proposed_totp_secret, expires_utc
		FROM pending_setups WHERE session_token=$1`,
		sessionToken,
	).Scan(&p.SessionToken, &p.Username, &p.NewPasswordHash, &p.ProposedTOTPSecret, &p.ExpiresUTC)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "no pending setup")
		}
		return nil, fmt.Errorf("getting pending setup: %w", err)
	}
	if time.Now().UTC().After(p.ExpiresUTC) {
		_ = s.DeletePendingSetup(ctx, sessionToken)
		return nil, apperr.New(apperr.AuthInvalid, "pending setup expired")
	}
	return &p, nil
}

// DeletePendingSetup discards a pending setup row.
func (s *Store) DeletePendingSetup(ctx context.Context, sessionToken string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM pending_setups WHERE session_token=$1", sessionToken)
	if err != nil {
		return fmt.Errorf("deleting pending setup: %w", err)
	}
	return nil
}

// CleanupExpiredPendingSetups removes expired rows (belt-and-suspenders; also
// checked lazily in GetPendingSetup).
func (s *Store) CleanupExpiredPendingSetups(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM pending_setups WHERE expires_utc < $1", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up pending setups: %w", err)
	}
	return tag.RowsAffected(), nil
}
