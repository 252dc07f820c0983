package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix of every environment variable read by Overrides.
const EnvPrefix = "DEPLOY_"

// Overrides holds settings taken from the process environment.
// Empty values leave the flag or file value untouched.
type Overrides struct {
	// ConfigPath overrides the configuration file path.
	ConfigPath string `env:"CONFIG"`
	// Environment selects the target environment when no argument is given.
	Environment string `env:"ENV"`
	// LogDir overrides Config.LogDir.
	LogDir string `env:"LOG_DIR"`
	// LogLevel sets the console log level.
	LogLevel string `env:"LOG_LEVEL"`
	// Parallelism overrides Config.Parallelism when positive.
	Parallelism int `env:"PARALLELISM"`
	// CommandTimeout overrides Config.CommandTimeout when positive, e.g. 10m.
	CommandTimeout time.Duration `env:"COMMAND_TIMEOUT"`
}

// LoadOverrides reads DEPLOY_* variables, loading the given .env files first when they exist.
func LoadOverrides(dotenvFiles ...string) (*Overrides, error) {
	for _, filename := range dotenvFiles {
		if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", filename, err)
		}
	}

	var overrides Overrides

	err := env.ParseWithOptions(&overrides, env.Options{
		Prefix: EnvPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return &overrides, nil
}

// Apply copies non-empty overrides onto cfg.
func (o *Overrides) Apply(cfg *Config) {
	if o == nil || cfg == nil {
		return
	}

	if o.LogDir != "" {
		cfg.LogDir = o.LogDir
	}

	if o.Parallelism > 0 {
		cfg.Parallelism = o.Parallelism
	}

	if o.CommandTimeout > 0 {
		cfg.CommandTimeout = o.CommandTimeout
	}
}
