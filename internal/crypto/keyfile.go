package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// keyFileName is the file the vault's AES-256 key is persisted under inside
// the configured key directory.
const keyFileName = "vault.key"

// LoadOrGenerateKey reads a hex-encoded 32-byte key from <dir>/vault.key,
// generating and atomically persisting one on first run (spec.md §4.K
// [FULL] supplemented feature: crypto-manager key lifecycle). The file is
// written 0600 and via a temp-file-then-rename so a crash never leaves a
// partially-written key on disk.
func LoadOrGenerateKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, keyFileName)

	encoded, err := os.ReadFile(path)
	if err == nil {
		key, decodeErr := hex.DecodeString(string(encoded))
		if decodeErr != nil {
			return nil, fmt.Errorf("crypto: corrupt key file %s: %w", path, decodeErr)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("crypto: key file %s has %d bytes, want 32", path, len(key))
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("crypto: reading key file: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("crypto: creating key directory: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generating key: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+keyFileName+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("crypto: creating temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("crypto: writing temp key file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("crypto: chmod temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("crypto: closing temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("crypto: installing key file: %w", err)
	}

	return key, nil
}
