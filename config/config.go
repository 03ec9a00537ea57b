package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. A YAML file supplies the base
// values; environment variables override individual fields so deployments
// can keep secrets out of the file.
type Config struct {
	// BackendURL is the base URL of the integration backend.
	BackendURL string `yaml:"backend_url"`
	// BearerToken is the dashboard session credential.
	BearerToken string `yaml:"bearer_token"`
	// DatabaseURL enables the durable lifecycle timeline when set.
	DatabaseURL string `yaml:"database_url"`

	// PollInterval and PollCeiling tune the status poller.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollCeiling  time.Duration `yaml:"poll_ceiling"`

	// MaxImportBytes bounds the import upload; zero keeps the default.
	MaxImportBytes int64 `yaml:"max_import_bytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PollInterval: 5 * time.Second,
		PollCeiling:  120 * time.Second,
	}
}

// Load reads the YAML file at path (missing file is fine, defaults apply)
// and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SIGNFLOW_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("SIGNFLOW_BEARER_TOKEN"); v != "" {
		cfg.BearerToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SIGNFLOW_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("SIGNFLOW_POLL_CEILING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollCeiling = d
		}
	}
}

func (c Config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("config: backend_url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	if c.PollCeiling < c.PollInterval {
		return fmt.Errorf("config: poll_ceiling must be at least poll_interval")
	}
	return nil
}
