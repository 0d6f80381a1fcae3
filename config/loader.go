package config

// loader.go - configuration loading from files and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables, including a .env file  (this file)
//   3. TOML config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"errors"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load overlays the config file at path (if any) and then the
// environment onto cfg.  It should be called BEFORE CLI flag parsing so
// that flags take precedence.
func Load(cfg *Config, path string) error {
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return err
		}
		cfg.ConfigPath = path
	}
	return LoadFromEnv(cfg)
}

// LoadFromEnv overlays WEARBRIDGE_* variables onto cfg.  Variables set
// in ./.env are loaded first without overriding the real environment.
// Only variables that are present override the existing value.
func LoadFromEnv(cfg *Config) error {
	if err := godotenv.Load(DefaultDotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// ConfigPathFromEnv returns WEARBRIDGE_CONFIG, if set.
func ConfigPathFromEnv() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}
