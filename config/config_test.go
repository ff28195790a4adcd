package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fidget.yaml")
	body := []byte(`
mode: client
client:
  url: ws://10.0.0.2:3000
  sign_policy: absolute
  seat: 2
  write_timeout: 2s
relay:
  match_duration: 30s
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FIDGET_URL", "ws://192.168.1.45:3000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Client.URL != "ws://192.168.1.45:3000" {
		t.Fatalf("url = %q, want env override", cfg.Client.URL)
	}
	if cfg.Client.SignPolicy != "absolute" || cfg.Client.Seat != 2 {
		t.Fatalf("client = %+v", cfg.Client)
	}
	if cfg.Client.WriteTimeout != 2*time.Second || cfg.Relay.MatchDuration != 30*time.Second {
		t.Fatalf("durations = %v / %v", cfg.Client.WriteTimeout, cfg.Relay.MatchDuration)
	}
	// 未在文件中出现的字段保留默认值
	if cfg.Relay.TicksPerSecond != 20 {
		t.Fatalf("ticks per second = %d, want default 20", cfg.Relay.TicksPerSecond)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateEndpoint(t *testing.T) {
	good := []string{"ws://127.0.0.1:3000", "wss://spin.example.com:443", "ws://host:1/"}
	for _, u := range good {
		if err := ValidateEndpoint(u); err != nil {
			t.Fatalf("ValidateEndpoint(%q) = %v", u, err)
		}
	}
	bad := []string{"http://host:1", "ws://", "ws://host:1/match", "ws://host:1?room=2", "::"}
	for _, u := range bad {
		if err := ValidateEndpoint(u); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ValidateEndpoint(%q) = %v, want ErrInvalid", u, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":   func(c *Config) { c.Mode = "spectator" },
		"seat":   func(c *Config) { c.Client.Seat = 3 },
		"policy": func(c *Config) { c.Client.SignPolicy = "sideways" },
		"match":  func(c *Config) { c.Relay.MatchDuration = 0 },
		"ticks":  func(c *Config) { c.Relay.TicksPerSecond = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err = %v, want ErrInvalid", name, err)
		}
	}
}
