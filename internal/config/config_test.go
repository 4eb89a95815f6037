package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNormalizeWSURL covers scheme defaulting and rejection of hostless input.
func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"wss kept", "wss://example.com:5555", "wss://example.com:5555", false},
		{"ws kept", "ws://127.0.0.1:8080/ws", "ws://127.0.0.1:8080/ws", false},
		{"bare host", "example.com:5555", "wss://example.com:5555", false},
		{"https becomes wss", "https://example.com/signal", "wss://example.com/signal", false},
		{"query kept", "ws://host/ws?room=1", "ws://host/ws?room=1", false},
		{"surrounding space", "  ws://host  ", "ws://host", false},
		{"empty", "", "", true},
		{"no host", "wss://", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeWSURL(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeWSURL(%q): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("NormalizeWSURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

// TestDefaultIsValid ensures the built-in configuration passes validation.
func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.OfferOnOpen {
		t.Error("default config must offer on open")
	}
	if cfg.AudioOut != "" {
		t.Errorf("default AudioOut = %q, want empty", cfg.AudioOut)
	}
}

// TestValidateRejects lists configurations that must not pass.
func TestValidateRejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "mesh" }},
		{"bad url", func(c *Config) { c.SignalingURL = "" }},
		{"empty video out", func(c *Config) { c.VideoOut = "" }},
		{"turn server", func(c *Config) { c.STUNServer = "turn:turn.example.com" }},
		{"negative stats", func(c *Config) { c.StatsInterval = -time.Second }},
		{"relay without listen", func(c *Config) { c.Mode = ModeRelay; c.RelayListen = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

// TestLoadFile verifies that YAML values override defaults and unspecified
// fields keep their default.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercall.yaml")
	data := []byte(`
signaling_url: ws://127.0.0.1:9000/ws
offer_on_open: false
audio_out: remote.ogg
stats_interval: 2s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SignalingURL != "ws://127.0.0.1:9000/ws" {
		t.Errorf("SignalingURL = %q", cfg.SignalingURL)
	}
	if cfg.OfferOnOpen {
		t.Error("OfferOnOpen = true, want false")
	}
	if cfg.AudioOut != "remote.ogg" {
		t.Errorf("AudioOut = %q", cfg.AudioOut)
	}
	if cfg.StatsInterval != 2*time.Second {
		t.Errorf("StatsInterval = %v, want 2s", cfg.StatsInterval)
	}
	if cfg.STUNServer != DefaultSTUNServer {
		t.Errorf("STUNServer = %q, want default", cfg.STUNServer)
	}
}

// TestLoadFromEnv verifies the PEERCALL_CONFIG fallback.
func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercall.yaml")
	if err := os.WriteFile(path, []byte("mode: relay\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeRelay {
		t.Errorf("Mode = %q, want relay", cfg.Mode)
	}
}

// TestLoadErrors covers missing files and malformed YAML.
func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stats_interval: [nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
