// Package config resolves server settings from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage backend names accepted by Config.Storage.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

type Config struct {
	// Addr is the listen address for the HTTP/websocket server.
	Addr string `env:"GRIDSYNC_ADDR" yaml:"addr"`
	// Storage selects the event log backend, "file" or "sqlite".
	Storage string `env:"GRIDSYNC_STORAGE" yaml:"storage"`
	// DataDir holds the event logs. For sqlite it contains posts.db.
	DataDir string `env:"GRIDSYNC_DATA_DIR" yaml:"data_dir"`
	// ClientDir, when set, is served as static files at the root path.
	ClientDir string `env:"GRIDSYNC_CLIENT_DIR" yaml:"client_dir"`
}

func Default() Config {
	return Config{
		Addr:    ":8080",
		Storage: StorageFile,
		DataDir: "data",
	}
}

// Load builds a Config from defaults, the YAML file at path when one is
// given, and finally the environment. Set env vars always win.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	if c.Addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	return nil
}
