// Package auth implements the AuthGateway component (spec.md §4.E):
// password/TOTP login, session issuance and sliding, CSRF double-submit,
// permission checks, and the initial-setup / temporary-user-setup flows.
package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/crypto"
	"github.com/ckoval7/challengectl/internal/store"
)

// Gateway is the AuthGateway.
type Gateway struct {
	store           *store.Store
	vault           *crypto.Vault
	rateLimiter     *RateLimiter
	replay          *ReplayGuard
	logger          *slog.Logger
	sessionMaxAge   time.Duration
	pendingSetupTTL time.Duration
}

// New builds a Gateway.
func New(st *store.Store, vault *crypto.Vault, rl *RateLimiter, replay *ReplayGuard, logger *slog.Logger, sessionMaxAge, pendingSetupTTL time.Duration) *Gateway {
	return &Gateway{
		store:           st,
		vault:           vault,
		rateLimiter:     rl,
		replay:          replay,
		logger:          logger,
		sessionMaxAge:   sessionMaxAge,
		pendingSetupTTL: pendingSetupTTL,
	}
}

// LoginResult is returned by Login.
type LoginResult struct {
	SessionToken  string
	CSRFToken     string
	ExpiresUTC    time.Time
	TOTPRequired  bool
	SetupRequired bool
}

// Login verifies a username/password pair under the configured rate limit
// and mints a session (spec.md §4.E).
func (g *Gateway) Login(ctx context.Context, username, password, sourceIP string) (*LoginResult, error) {
	limit, err := g.rateLimiter.Check(ctx, sourceIP)
	if err != nil {
		return nil, err
	}
	if !limit.Allowed {
		return nil, apperr.New(apperr.RateLimited, "too many login attempts")
	}

	user, err := g.store.GetUser(ctx, username)
	var hash string
	if err == nil {
		hash = user.PasswordHash
	}

	if !crypto.VerifyPassword(hash, password) {
		_ = g.rateLimiter.Record(ctx, sourceIP)
		g.logger.Warn("login failed", "event_type", "login_failed", "username", username, "ip", sourceIP)
		return nil, apperr.New(apperr.AuthInvalid, "invalid username or password")
	}
	if !user.Enabled {
		_ = g.rateLimiter.Record(ctx, sourceIP)
		return nil, apperr.New(apperr.AuthInvalid, "account disabled")
	}

	_ = g.rateLimiter.Reset(ctx, sourceIP)

	sessionToken, err := crypto.GenerateToken()
	if err != nil {
		return nil, err
	}
	csrfToken, err := crypto.GenerateToken()
	if err != nil {
		return nil, err
	}

	totpConfigured := len(user.TOTPSecretEncrypted) > 0
	verified := !totpConfigured && !user.IsTemporary

	expires := time.Now().UTC().Add(g.sessionMaxAge)
	sess := store.Session{
		Token:        sessionToken,
		Username:     username,
		ExpiresUTC:   expires,
		TOTPVerified: verified,
	}
	if err := g.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if verified {
		_ = g.store.TouchLastLogin(ctx, username)
	}

	g.logger.Info("login succeeded", "event_type", "login_success", "username", username, "ip", sourceIP)

	return &LoginResult{
		SessionToken:  sessionToken,
		CSRFToken:     csrfToken,
		ExpiresUTC:    expires,
		TOTPRequired:  totpConfigured,
		SetupRequired: user.IsTemporary,
	}, nil
}

// VerifyTOTP checks code against the user's stored secret and, on success,
// flips the session to verified (spec.md §4.E).
func (g *Gateway) VerifyTOTP(ctx context.Context, sessionToken, code, sourceIP string) error {
	limit, err := g.rateLimiter.Check(ctx, sourceIP)
	if err != nil {
		return err
	}
	if !limit.Allowed {
		return apperr.New(apperr.RateLimited, "too many verification attempts")
	}

	sess, err := g.store.GetSession(ctx, sessionToken)
	if err != nil {
		return err
	}
	user, err := g.store.GetUser(ctx, sess.Username)
	if err != nil {
		return err
	}
	if len(user.TOTPSecretEncrypted) == 0 {
		return apperr.New(apperr.AuthInvalid, "totp not configured")
	}

	secret, err := g.vault.DecryptTOTPSecret(user.TOTPSecretEncrypted)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "decrypting totp secret", err)
	}

	if !ValidateTOTPCode(secret, code) {
		_ = g.rateLimiter.Record(ctx, sourceIP)
		g.logger.Warn("totp verification failed", "event_type", "totp_failed", "username", sess.Username, "ip", sourceIP)
		return apperr.New(apperr.AuthInvalid, "invalid totp code")
	}

	fresh, err := g.replay.CheckAndRecord(ctx, sess.Username, code)
	if err != nil {
		return err
	}
	if !fresh {
		g.logger.Warn("totp replay detected", "event_type", "totp_replay", "username", sess.Username, "ip", sourceIP)
		return apperr.New(apperr.AuthInvalid, "totp code already used")
	}

	_ = g.rateLimiter.Reset(ctx, sourceIP)

	if err := g.store.VerifySessionTOTP(ctx, sessionToken); err != nil {
		return err
	}
	return g.store.TouchLastLogin(ctx, sess.Username)
}

// SlideSession extends a session's expiry, called on every authenticated
// request.
func (g *Gateway) SlideSession(ctx context.Context, sessionToken string) error {
	return g.store.SlideSession(ctx, sessionToken, g.sessionMaxAge)
}

// Logout deletes a session.
func (g *Gateway) Logout(ctx context.Context, sessionToken string) error {
	return g.store.DeleteSession(ctx, sessionToken)
}

// ChangePassword rehashes a user's password and invalidates every other
// session, per spec.md §4.E.
func (g *Gateway) ChangePassword(ctx context.Context, username, newPassword, keepSessionToken string) error {
	user, err := g.store.GetUser(ctx, username)
	if err != nil {
		return err
	}
	hash, err := g.vault.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.PasswordChangeRequired = false
	if err := g.store.UpdateUser(ctx, *user); err != nil {
		return err
	}
	return g.store.DeleteOtherSessions(ctx, username, keepSessionToken)
}

// AdminResetPassword sets a new password for username (admin action) and
// invalidates every session of that user.
func (g *Gateway) AdminResetPassword(ctx context.Context, username, newPassword string) error {
	user, err := g.store.GetUser(ctx, username)
	if err != nil {
		return err
	}
	hash, err := g.vault.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.PasswordChangeRequired = true
	if err := g.store.UpdateUser(ctx, *user); err != nil {
		return err
	}
	return g.store.DeleteAllSessions(ctx, username)
}

// GrantPermissionSafely grants a permission unconditionally; lockout
// prevention lives in RevokePermissionSafely, this is here for symmetry with
// the permissions API.
func (g *Gateway) GrantPermissionSafely(ctx context.Context, username, permission string) error {
	return g.store.GrantPermission(ctx, username, permission)
}

// RevokePermissionSafely refuses to let an actor revoke their own
// create_users permission, which would otherwise lock every admin out of
// user management (spec.md §4.E).
func (g *Gateway) RevokePermissionSafely(ctx context.Context, actingUsername, targetUsername, permission string) error {
	if actingUsername == targetUsername && permission == "create_users" {
		return apperr.New(apperr.Validation, "cannot revoke your own create_users permission")
	}
	return g.store.RevokePermission(ctx, targetUsername, permission)
}

// CompleteSetup is step one of the two-step temporary-user flow: it accepts
// a new password, generates a proposed TOTP secret, and stashes both in a
// short-lived pending row keyed by session token (spec.md §4.E).
func (g *Gateway) CompleteSetup(ctx context.Context, sessionToken, newPassword string) (provisioningURI string, err error) {
	sess, err := g.store.GetSession(ctx, sessionToken)
	if err != nil {
		return "", err
	}

	hash, err := g.vault.HashPassword(newPassword)
	if err != nil {
		return "", err
	}

	secret, uri, err := GenerateTOTPSecret(sess.Username)
	if err != nil {
		return "", err
	}
	encryptedSecret, err := g.vault.EncryptTOTPSecret(secret)
	if err != nil {
		return "", err
	}

	pending := store.PendingSetup{
		SessionToken:       sessionToken,
		Username:           sess.Username,
		NewPasswordHash:    hash,
		ProposedTOTPSecret: encryptedSecret,
		ExpiresUTC:         time.Now().UTC().Add(g.pendingSetupTTL),
	}
	if err := g.store.PutPendingSetup(ctx, pending); err != nil {
		return "", err
	}
	return uri, nil
}

// VerifySetup is step two: it checks code against the *pending* secret and,
// on success, commits the new password/TOTP secret, flips is_temporary off,
// and discards the pending row.
func (g *Gateway) VerifySetup(ctx context.Context, sessionToken, code string) error {
	pending, err := g.store.GetPendingSetup(ctx, sessionToken)
	if err != nil {
		return err
	}

	secret, err := g.vault.DecryptTOTPSecret(pending.ProposedTOTPSecret)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "decrypting pending totp secret", err)
	}
	if !ValidateTOTPCode(secret, code) {
		return apperr.New(apperr.AuthInvalid, "invalid totp code")
	}

	user, err := g.store.GetUser(ctx, pending.Username)
	if err != nil {
		return err
	}
	user.PasswordHash = pending.NewPasswordHash
	user.TOTPSecretEncrypted = pending.ProposedTOTPSecret
	user.IsTemporary = false
	user.PasswordChangeRequired = false
	if err := g.store.UpdateUser(ctx, *user); err != nil {
		return err
	}
	if err := g.store.VerifySessionTOTP(ctx, sessionToken); err != nil {
		return err
	}
	return g.store.DeletePendingSetup(ctx, sessionToken)
}

// InitialSetup performs the bootstrap-first-user flow (spec.md §4.E):
// creates the first real user, grants the two bootstrap permissions,
// disables the temporary bootstrap admin, and clears the setup flag.
func (g *Gateway) InitialSetup(ctx context.Context, username, password string) error {
	hash, err := g.vault.HashPassword(password)
	if err != nil {
		return err
	}
	if err := g.store.CreateUser(ctx, store.User{
		Username:     username,
		PasswordHash: hash,
		Enabled:      true,
	}); err != nil {
		return err
	}
	if err := g.store.GrantPermission(ctx, username, "create_users"); err != nil {
		return err
	}
	if err := g.store.GrantPermission(ctx, username, "create_provisioning_key"); err != nil {
		return err
	}
	if err := g.store.DisableUser(ctx, "admin"); err != nil && apperr.KindOf(err) != apperr.NotFound {
		return err
	}
	return g.store.DeleteSystemState(ctx, store.StateKeyInitialSetupRequired)
}
