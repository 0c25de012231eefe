package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAddresses(t *testing.T) {
	dir := t.TempDir()
	body := `{"addresses":[{"name":"alice"},{"name":"bob"}]}`
	if err := os.WriteFile(filepath.Join(dir, "addresses.json"), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	a, err := LoadAddresses(dir)
	if err != nil {
		t.Fatalf("LoadAddresses: %v", err)
	}
	if len(a.Addresses) != 2 || a.Addresses[0].Name != "alice" || a.Addresses[1].Name != "bob" {
		t.Fatalf("unexpected addresses: %+v", a)
	}
}

func TestLoadBridgeDefaultsListenAddr(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bridge.json"), []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBridge(dir)
	if err != nil {
		t.Fatalf("LoadBridge: %v", err)
	}
	if b.Listen == "" {
		t.Fatal("expected a default listen address")
	}
}
