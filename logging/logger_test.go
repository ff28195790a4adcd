package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fidgetfighter/config"
)

func TestNewWritesRollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fidget.log")
	l, err := New(config.LogConfig{File: path, Level: "debug", MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Named("session").Debugw("transition", "from", "Waiting", "to", "InGame")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "DEBUG") || !strings.Contains(out, "transition") || !strings.Contains(out, "InGame") {
		t.Fatalf("unexpected log output: %q", out)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
