package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAction != "deny" {
		t.Fatalf("DefaultAction = %q, want deny", cfg.DefaultAction)
	}
	if cfg.HTTPPort != 5201 {
		t.Fatalf("HTTPPort = %d, want 5201", cfg.HTTPPort)
	}
}

func TestLoadOverlaysOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shield.json")
	if err := os.WriteFile(path, []byte(`{"httpPort": 9999, "defaultAction": "allow"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9999 {
		t.Fatalf("HTTPPort = %d, want 9999", cfg.HTTPPort)
	}
	if cfg.DefaultAction != "allow" {
		t.Fatalf("DefaultAction = %q, want allow", cfg.DefaultAction)
	}
	// Untouched fields keep their documented default.
	if cfg.ReloadCooldownMs != 60_000 {
		t.Fatalf("ReloadCooldownMs = %d, want 60000", cfg.ReloadCooldownMs)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shield.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
