package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SRS.MinEaseFactor != 1.3 || cfg.SRS.MaxEaseFactor != 2.5 {
		t.Errorf("ease bounds = %v/%v, want 1.3/2.5", cfg.SRS.MinEaseFactor, cfg.SRS.MaxEaseFactor)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("sync max attempts = %d, want 3", cfg.Sync.MaxAttempts)
	}
	if cfg.Session.InactivityTimeout != 30*time.Minute {
		t.Errorf("inactivity timeout = %v, want 30m", cfg.Session.InactivityTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
database:
  path: /tmp/test.db
srs:
  max_interval_days: 180
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.SRS.MaxIntervalDays != 180 {
		t.Errorf("max interval = %d, want 180", cfg.SRS.MaxIntervalDays)
	}
	// Untouched keys keep their defaults.
	if cfg.SRS.FirstIntervalDays != 1 {
		t.Errorf("first interval = %d, want default 1", cfg.SRS.FirstIntervalDays)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOSHI_LOGGING_LEVEL", "error")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("log level = %q, want error (env wins over file)", cfg.Logging.Level)
	}
}

func TestLoadFlagsWinOverEverything(t *testing.T) {
	t.Setenv("MOSHI_LOGGING_LEVEL", "error")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("logging.level", "info", "")
	if err := flags.Parse([]string{"--logging.level=debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug (flag wins)", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"ease floor above ceiling", "srs:\n  min_ease_factor: 3.0\n"},
		{"zero retry ceiling", "sync:\n  max_attempts: 0\n"},
		{"mastery accuracy above one", "srs:\n  mastery_accuracy: 1.5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.doc), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path, nil); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml", nil); err == nil {
		t.Error("missing config file accepted")
	}
}
