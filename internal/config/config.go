// Package config loads the application configuration. Precedence, low
// to high: built-in defaults, YAML config file, MOSHI_ environment
// variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/HelyeFab/moshimoshi-sub003/internal/session"
	"github.com/HelyeFab/moshimoshi-sub003/internal/srs"
	"github.com/HelyeFab/moshimoshi-sub003/internal/syncq"
)

const envPrefix = "MOSHI_"

// Config is the full application configuration tree.
type Config struct {
	Database  Database       `koanf:"database"`
	Logging   Logging        `koanf:"logging"`
	Remote    Remote         `koanf:"remote"`
	Content   Content        `koanf:"content"`
	SRS       srs.Config     `koanf:"srs"`
	Session   session.Config `koanf:"session"`
	Sync      syncq.Config   `koanf:"sync"`
	Retention Retention      `koanf:"retention"`
}

// Database configures the local store.
type Database struct {
	Path string `koanf:"path" validate:"required"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Remote configures the sync target. An empty BaseURL runs the engine
// offline-only; nothing leaves the local queue.
type Remote struct {
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
	UserID  string `koanf:"user_id" validate:"required"`
}

// Content configures where reviewable content comes from.
type Content struct {
	Dir    string `koanf:"dir"`
	GitURL string `koanf:"git_url" validate:"omitempty,url"`
	Fuzzy  bool   `koanf:"fuzzy"`
}

// Retention bounds how long terminal sessions and history stay in the
// local store before Cleanup prunes them.
type Retention struct {
	MaxAgeDays int `koanf:"max_age_days" validate:"min=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Database:  Database{Path: home + "/.moshimoshi/reviews.db"},
		Logging:   Logging{Level: "info", Format: "text"},
		Remote:    Remote{UserID: "local"},
		Content:   Content{Dir: "decks", Fuzzy: true},
		SRS:       srs.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Sync:      syncq.DefaultConfig(),
		Retention: Retention{MaxAgeDays: 90},
	}
}

// Load assembles the configuration. path may be empty (skip the file
// layer); flags may be nil (skip the flag layer).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// MOSHI_DATABASE_PATH -> database.path
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration against the struct tags.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			f := invalid[0]
			return fmt.Errorf("invalid config: %s fails %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
