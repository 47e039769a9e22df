package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ckoval7/challengectl/internal/apperr"
)

// CreateEnrollmentToken inserts a fresh, unused enrollment token (spec.md §4.F).
func (s *Store) CreateEnrollmentToken(ctx context.Context, t EnrollmentToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO enrollment_tokens (token, runner_name, created_by, expires_utc, used,
		                                re_enrollment_for, created_at)
		VALUES ($1, $2, $3, $4, false, $5, $6)`,
		t.Token, t.RunnerName, t.CreatedBy, t.ExpiresUTC, nilIfEmptyStr(t.ReEnrollmentFor), orNow(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Conflict, "enrollment token collision")
		}
		return fmt.Errorf("creating enrollment token: %w", err)
	}
	return nil
}

// GetEnrollmentToken fetches a token row regardless of used/expired state,
// leaving the used/expired checks to the caller (AuthGateway/enrollment
// service decides the exact apperr.Kind to surface).
func (s *Store) GetEnrollmentToken(ctx context.Context, token string) (*EnrollmentToken, error) {
	var t EnrollmentToken
	var reEnrollmentFor *string
	err := s.pool.QueryRow(ctx, `
		SELECT token, runner_name, created_by, expires_utc, used, used_at, used_by_runner_id,
		       re_enrollment_for, created_at
		FROM enrollment_tokens WHERE token=$1`, token,
	).Scan(&t.Token, &t.RunnerName, &t.CreatedBy, &t.ExpiresUTC, &t.Used, &t.UsedAt, &t.UsedByRunnerID,
		&reEnrollmentFor, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.AuthInvalid, "enrollment token not found")
		}
		return nil, fmt.Errorf("getting enrollment token: %w", err)
	}
	if reEnrollmentFor != nil {
		t.ReEnrollmentFor = *reEnrollmentFor
	}
	return &t, nil
}

// ConsumeEnrollmentToken atomically marks a token used, failing if it is
// already used or expired (spec.md §4.F Invariant: a token mints at most one
// runner identity).
func (s *Store) ConsumeEnrollmentToken(ctx context.Context, token, usedByRunnerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrollment_tokens
		SET used=true, used_at=$2, used_by_runner_id=$3
		WHERE token=$1 AND used=false AND expires_utc > $2`,
		token, time.Now().UTC(), usedByRunnerID,
	)
	if err != nil {
		return fmt.Errorf("consuming enrollment token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.AuthInvalid, "enrollment token already used or expired")
	}
	return nil
}

// ListEnrollmentTokens returns every token, newest first.
func (s *Store) ListEnrollmentTokens(ctx context.Context) ([]EnrollmentToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, runner_name, created_by, expires_utc, used, used_at, used_by_runner_id,
		       re_enrollment_for, created_at
		FROM enrollment_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing enrollment tokens: %w", err)
	}
	defer rows.Close()

	var out []EnrollmentToken
	for rows.Next() {
		var t EnrollmentToken
		var reEnrollmentFor *string
		if err := rows.Scan(&t.Token, &t.RunnerName, &t.CreatedBy, &t.ExpiresUTC, &t.Used, &t.UsedAt,
			&t.UsedByRunnerID, &reEnrollmentFor, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning enrollment token: %w", err)
		}
		if reEnrollmentFor != nil {
			t.ReEnrollmentFor = *reEnrollmentFor
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeEnrollmentToken deletes an unused token outright (operator revoke).
func (s *Store) RevokeEnrollmentToken(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM enrollment_tokens WHERE token=$1 AND used=false", token)
	if err != nil {
		return fmt.Errorf("revoking enrollment token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "enrollment token not found or already used")
	}
	return nil
}

// CleanupExpiredEnrollmentTokens deletes unused tokens past expiry.
func (s *Store) CleanupExpiredEnrollmentTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM enrollment_tokens WHERE used=false AND expires_utc < $1", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired enrollment tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Provisioning keys ---

// CreateProvisioningKey inserts a long-lived key that mints enrollment tokens.
func (s *Store) CreateProvisioningKey(ctx context.Context, k ProvisioningKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provisioning_keys (key_id, api_key_hash, description, created_by, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		k.KeyID, k.APIKeyHash, k.Description, k.CreatedBy, k.Enabled, orNow(k.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.Conflict, "provisioning key %q already exists", k.KeyID)
		}
		return fmt.Errorf("creating provisioning key: %w", err)
	}
	return nil
}

// GetProvisioningKeyByHash looks up a provisioning key by its hashed secret;
// disabled keys are returned too, the enabled flag is not checked here.
func (s *Store) GetProvisioningKeyByHash(ctx context.Context, hash string) (*ProvisioningKey, error) {
	var k ProvisioningKey
	err := s.pool.QueryRow(ctx, `
		SELECT key_id, api_key_hash, description, created_by, enabled, created_at
		FROM provisioning_keys WHERE api_key_hash=$1`, hash,
	).Scan(&k.KeyID, &k.APIKeyHash, &k.Description, &k.CreatedBy, &k.Enabled, &k.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.AuthInvalid, "provisioning key not found")
		}
		return nil, fmt.Errorf("getting provisioning key: %w", err)
	}
	return &k, nil
}

// ListProvisioningKeys returns every provisioning key.
func (s *Store) ListProvisioningKeys(ctx context.Context) ([]ProvisioningKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key_id, api_key_hash, description, created_by, enabled, created_at
		FROM provisioning_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing provisioning keys: %w", err)
	}
	defer rows.Close()

	var out []ProvisioningKey
	for rows.Next() {
		var k ProvisioningKey
		if err := rows.Scan(&k.KeyID, &k.APIKeyHash, &k.Description, &k.CreatedBy, &k.Enabled, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning provisioning key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SetProvisioningKeyEnabled toggles a provisioning key's usability.
func (s *Store) SetProvisioningKeyEnabled(ctx context.Context, keyID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE provisioning_keys SET enabled=$2 WHERE key_id=$1", keyID, enabled)
	if err != nil {
		return fmt.Errorf("setting provisioning key enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "provisioning key not found")
	}
	return nil
}

func nilIfEmptyStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
