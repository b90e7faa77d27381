package commands

import (
	"fmt"
	"os"

	postgresstore "github.com/wolfeidau/tenantreaper/internal/store/postgres"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Flags and environment
// variables override it field by field, so a deployment can ship pool
// tuning and the protected tenant list in a file while operators pass
// credentials at runtime.
type Config struct {
	Store            postgresstore.PoolConfig `yaml:"store"`
	ProtectedTenants []int64                  `yaml:"protected_tenants"`
}

// loadConfig merges the YAML file (when given) with the command line
// flags, flags winning.
func loadConfig(flags EngineFlags) (*Config, error) {
	cfg := &Config{}

	if flags.Config != "" {
		data, err := os.ReadFile(flags.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", flags.Config, err)
		}
	}

	if flags.ConnString != "" {
		cfg.Store.ConnString = flags.ConnString
	}
	if flags.AutoMigrate {
		cfg.Store.AutoMigrate = true
	}

	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	cfg.Store.ApplyDefaults()

	return cfg, nil
}
