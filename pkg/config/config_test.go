package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"TELEPAGE_BOT_TOKEN", "TELEPAGE_DATA_DIR", "TELEPAGE_STORE",
		"LOG_LEVEL", "TELEPAGE_FLUSH_DELAY", "TELEPAGE_SESSION_TIMEOUT",
	} {
		// t.Setenv registers the restore; the variable must be absent for
		// envDefault to apply.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DataDir != "data" || cfg.StoreBackend != "file" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FlushDelay != 5*time.Second || cfg.SessionTimeout != 30*time.Minute {
		t.Fatalf("unexpected duration defaults: %+v", cfg)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TELEPAGE_BOT_TOKEN", "123:abc")
	t.Setenv("TELEPAGE_STORE", "sqlite")
	t.Setenv("TELEPAGE_DATA_DIR", "/tmp/tp")
	t.Setenv("TELEPAGE_FLUSH_DELAY", "2s")
	t.Setenv("TELEPAGE_SESSION_TIMEOUT", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BotToken != "123:abc" || cfg.StoreBackend != "sqlite" {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.FlushDelay != 2*time.Second || cfg.SessionTimeout != 10*time.Minute {
		t.Fatalf("durations not parsed: %+v", cfg)
	}
	if cfg.SQLitePath() != filepath.Join("/tmp/tp", "telepage.db") {
		t.Fatalf("unexpected sqlite path: %s", cfg.SQLitePath())
	}
}

func TestRequireToken(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.RequireToken(); err == nil {
		t.Fatalf("empty token should error")
	}
	cfg.BotToken = "123:abc"
	token, err := cfg.RequireToken()
	if err != nil || token != "123:abc" {
		t.Fatalf("token not returned: %q %v", token, err)
	}
}
