package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateKeyPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	key1, err := LoadOrGenerateKey(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateKey (generate): %v", err)
	}
	if len(key1) != 32 {
		t.Fatalf("got key length %d, want 32", len(key1))
	}

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("got key file perms %o, want 0600", perm)
	}

	key2, err := LoadOrGenerateKey(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateKey (reload): %v", err)
	}
	if string(key1) != string(key2) {
		t.Fatal("expected reloaded key to match generated key")
	}
}

func TestLoadOrGenerateKeyRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, keyFileName), []byte("not hex!!"), 0600); err != nil {
		t.Fatalf("seeding corrupt key file: %v", err)
	}

	if _, err := LoadOrGenerateKey(dir); err == nil {
		t.Fatal("expected error on corrupt key file")
	}
}
