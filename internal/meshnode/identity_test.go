package meshnode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityGeneratesNewKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	priv, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if priv == nil {
		t.Fatal("expected non-nil private key")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected key file to be written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file permissions = %o, want 0600", perm)
	}
}

func TestLoadOrCreateIdentityReloadsExistingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("first LoadOrCreateIdentity: %v", err)
	}

	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateIdentity: %v", err)
	}

	if !first.Equals(second) {
		t.Error("reloaded key should match the originally generated key")
	}
}

func TestPeerIDFromKeyFileIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	id1, err := PeerIDFromKeyFile(path)
	if err != nil {
		t.Fatalf("PeerIDFromKeyFile: %v", err)
	}
	id2, err := PeerIDFromKeyFile(path)
	if err != nil {
		t.Fatalf("PeerIDFromKeyFile (reload): %v", err)
	}
	if id1 != id2 {
		t.Errorf("peer ID changed across reloads: %v != %v", id1, id2)
	}
}

func TestLoadOrCreateIdentityRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	if err := os.WriteFile(path, []byte("not a valid key"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Error("expected error for corrupt identity file")
	}
}
