package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/ckoval7/challengectl/internal/store"
)

// totpIssuer labels generated provisioning URIs.
const totpIssuer = "ChallengeCtl"

// defaultReplayWindow is how long a used TOTP code is refused for reuse (spec.md
// §4.E Invariant 4).
const defaultReplayWindow = 120 * time.Second

// GenerateTOTPSecret creates a fresh base32 TOTP secret and its
// otpauth:// provisioning URI for username.
func GenerateTOTPSecret(username string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return "", "", fmt.Errorf("generating totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTPCode checks code against secret with a ±1 step (30s) window,
// per spec.md §4.E.
func ValidateTOTPCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// ReplayGuard enforces the (username, code) -> first_use replay table,
// checking Redis first and falling back to the database if Redis is
// unavailable, grounded on the teacher's pkg/alert/dedup.go Redis-first
// pattern.
type ReplayGuard struct {
	redis  *redis.Client
	store  *store.Store
	window time.Duration
}

// NewReplayGuard builds a ReplayGuard. window defaults to 120s if zero.
func NewReplayGuard(rdb *redis.Client, st *store.Store, window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = defaultReplayWindow
	}
	return &ReplayGuard{redis: rdb, store: st, window: window}
}

// CheckAndRecord returns true if (username, code) has not been seen within
// the replay window, atomically recording it if so. A second use of the
// same code returns false.
func (g *ReplayGuard) CheckAndRecord(ctx context.Context, username, code string) (bool, error) {
	key := fmt.Sprintf("totp_replay:%s:%s", username, code)

	if g.redis != nil {
		ok, err := g.redis.SetNX(ctx, key, "1", g.window).Result()
		if err == nil {
			return ok, nil
		}
		// Redis unavailable: fall through to the database-backed guard.
	}

	return g.store.CheckAndRecordTOTPReplay(ctx, username, code, g.window)
}
