// Package crypto implements the CredentialVault component (spec.md §4.B):
// password hashing, TOTP-secret-at-rest encryption, and high-entropy token
// generation for sessions, API keys, and enrollment tokens.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost mirrors the teacher's password hashing cost.
const bcryptCost = 12

// dummyHash is compared against on every login attempt for a username that
// does not exist, so the bcrypt cost is paid regardless and timing does not
// reveal account existence (spec.md §4.E Invariant 2).
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("challengectl-dummy-password"), bcryptCost)

// Vault is the CredentialVault: password hashing and TOTP-secret encryption
// backed by an AES-256-GCM key loaded from disk.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a 32-byte AES-256 key.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: building cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: building GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// HashPassword hashes a plaintext password with bcrypt.
func (v *Vault) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. If hash is empty
// (no such user), it still runs a bcrypt comparison against a fixed dummy
// hash so failed lookups and failed comparisons take comparable time.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EncryptTOTPSecret seals a raw TOTP secret for storage.
func (v *Vault) EncryptTOTPSecret(secret string) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, []byte(secret), nil), nil
}

// DecryptTOTPSecret opens a sealed TOTP secret.
func (v *Vault) DecryptTOTPSecret(sealed []byte) (string, error) {
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("sealed secret too short")
	}
	nonce, ciphertext := sealed[:ns], sealed[ns:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting totp secret: %w", err)
	}
	return string(plaintext), nil
}

// HashToken sha256-hashes a raw bearer token (API key, provisioning key) for
// storage/lookup, grounded on the teacher's hashPAT pattern — unlike
// passwords, these are high-entropy random tokens, so a fast hash with
// equality lookup is sufficient and lets the database index on it.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two token strings without leaking timing.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// tokenBytes is the entropy carried by every generated token type below.
const tokenBytes = 32

// GenerateToken returns a random URL-safe token with tokenBytes of entropy,
// used for session tokens, API keys, CSRF tokens, and enrollment tokens.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
