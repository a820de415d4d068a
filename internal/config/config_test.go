package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("expected first run to create the file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if cfg.Call.Mode != ModeNative {
		t.Fatalf("default mode = %q", cfg.Call.Mode)
	}

	// Second run loads the existing file.
	_, created, err = Ensure(path)
	if err != nil {
		t.Fatalf("Ensure reload: %v", err)
	}
	if created {
		t.Fatal("second run must not recreate the file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"profile":{"display_name":"alice"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Profile.DisplayName != "alice" {
		t.Fatalf("display name = %q", cfg.Profile.DisplayName)
	}
	if cfg.Identity.KeyFile == "" {
		t.Fatal("key file default not applied")
	}
	if len(cfg.Call.STUNServers) == 0 {
		t.Fatal("stun server default not applied")
	}
	if cfg.Presence.TTLSec <= cfg.Presence.HeartbeatSec {
		t.Fatal("presence defaults inconsistent")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"simulated mode", func(c *Config) { c.Call.Mode = ModeSimulated }, true},
		{"unknown mode", func(c *Config) { c.Call.Mode = "webrtc" }, false},
		{"bad stun scheme", func(c *Config) { c.Call.STUNServers = []string{"turn:relay.example.com"} }, false},
		{"port out of range", func(c *Config) { c.P2P.ListenPort = 70000 }, false},
		{"missing key file", func(c *Config) { c.Identity.KeyFile = "" }, false},
		{"zero heartbeat", func(c *Config) { c.Presence.HeartbeatSec = 0 }, false},
		{"ttl below heartbeat", func(c *Config) { c.Presence.TTLSec = 5; c.Presence.HeartbeatSec = 10 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
