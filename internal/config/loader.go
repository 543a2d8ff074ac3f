package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FAREORCH_SERVER_ADDR.
const EnvPrefix = "FAREORCH"

// Load reads the YAML file at path over DefaultConfig. An empty path loads
// only the defaults and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"server.addr", "server.batch_concurrency", "server.max_batch_size", "server.validate_requests",
		"logger.level", "logger.format", "logger.output_file",
		"telemetry.enabled", "telemetry.service_name",
		"policy.redirect_rule", "policy.second_pricing_rule",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
