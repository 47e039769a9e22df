package crypto

import "testing"

func TestVaultRoundTripTOTPSecret(t *testing.T) {
	key := make([]byte, 32)
	v, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := v.EncryptTOTPSecret("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("EncryptTOTPSecret: %v", err)
	}
	if len(sealed) == 0 {
		t.Fatal("expected non-empty sealed secret")
	}

	plain, err := v.DecryptTOTPSecret(sealed)
	if err != nil {
		t.Fatalf("DecryptTOTPSecret: %v", err)
	}
	if plain != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("got %q, want original secret", plain)
	}
}

func TestVaultDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	v, _ := New(key)

	sealed, err := v.EncryptTOTPSecret("secret")
	if err != nil {
		t.Fatalf("EncryptTOTPSecret: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := v.DecryptTOTPSecret(sealed); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}

func TestHashPasswordAndVerify(t *testing.T) {
	v, _ := New(make([]byte, 32))

	hash, err := v.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if !VerifyPassword(hash, "correct horse battery staple") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(hash, "wrong password") {
		t.Fatal("expected wrong password to fail verification")
	}
	if VerifyPassword("", "anything") {
		t.Fatal("expected empty hash to never verify")
	}
}

func TestGenerateTokenUniqueAndHex(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a == b {
		t.Fatal("expected two distinct tokens")
	}
	if len(a) != tokenBytes*2 {
		t.Fatalf("got token length %d, want %d", len(a), tokenBytes*2)
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("expected HashToken to be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("expected different inputs to hash differently")
	}
}
