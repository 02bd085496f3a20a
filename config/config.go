// Package config loads the session configuration from a YAML file and
// applies defaults.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	plverrors "github.com/Ginden/plv8/pkg/errors"
)

// Config is the top-level configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Modules ModulesConfig `yaml:"modules"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects the host database backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`
	// DSN is the backend connection string. For sqlite, a file path or
	// ":memory:".
	DSN string `yaml:"dsn"`
}

// BridgeConfig configures the script bridge.
type BridgeConfig struct {
	// StartProc names a function run once per namespace on creation.
	StartProc string `yaml:"start_proc"`
}

// ModulesConfig configures the JavaScript module library.
type ModulesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults: an in-memory sqlite backend and
// text logging at info level.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "sqlite",
			DSN:     ":memory:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeConfigMissing,
			"cannot read config file").WithField("path", path).Err()
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeConfigParse,
			"cannot parse config file").WithField("path", path).Err()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values the schema cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres":
	default:
		return plverrors.Newf(plverrors.ErrCodeConfigInvalid,
			"unknown storage backend: %q", c.Storage.Backend).Err()
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return plverrors.New(plverrors.ErrCodeConfigInvalid,
			"postgres backend requires a dsn").Err()
	}
	if c.Modules.Watch && c.Modules.Dir == "" {
		return plverrors.New(plverrors.ErrCodeConfigInvalid,
			"modules.watch requires modules.dir").Err()
	}
	return nil
}
