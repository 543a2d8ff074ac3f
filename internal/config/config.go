// Package config holds the process configuration and loads it from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/yourorg/fare-orchestrator/internal/logger"
	"github.com/yourorg/fare-orchestrator/internal/planbuilder"
	"github.com/yourorg/fare-orchestrator/internal/service"
	"github.com/yourorg/fare-orchestrator/internal/telemetry"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// Service modes.
const (
	ModeStub   = "stub"
	ModeRemote = "remote"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig                `mapstructure:"server"`
	Logger    logger.Config               `mapstructure:"logger"`
	Telemetry telemetry.Config            `mapstructure:"telemetry"`
	Policy    PolicyConfig                `mapstructure:"policy"`
	Plans     map[string]planbuilder.Spec `mapstructure:"plans"`
	Services  map[string]ServiceConfig    `mapstructure:"services"`
	Remote    RemoteConfig                `mapstructure:"remote"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr             string `mapstructure:"addr"`
	BatchConcurrency int    `mapstructure:"batch_concurrency"`
	MaxBatchSize     int    `mapstructure:"max_batch_size"`
	HistorySize      int    `mapstructure:"history_size"`
	ValidateRequests bool   `mapstructure:"validate_requests"`
}

// PolicyConfig holds the govaluate rules layered on the built-in behavior.
type PolicyConfig struct {
	// RedirectRule further restricts redirect eligibility.
	RedirectRule string `mapstructure:"redirect_rule"`
	// SecondPricingRule selects transactions whose new itinerary is priced twice.
	SecondPricingRule string `mapstructure:"second_pricing_rule"`
}

// ServiceConfig binds one backend service slot.
type ServiceConfig struct {
	Mode          string `mapstructure:"mode"`    // stub or remote; empty means stub
	Outcome       string `mapstructure:"outcome"` // stub outcome script
	URL           string `mapstructure:"url"`
	APIKey        string `mapstructure:"api_key"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	Disabled      bool   `mapstructure:"disabled"` // leave the slot unbound
}

// RemoteConfig holds the settings shared by every remote service.
type RemoteConfig struct {
	Timeout                  time.Duration `mapstructure:"timeout"`
	RetryDelay               time.Duration `mapstructure:"retry_delay"`
	FailureThreshold         int           `mapstructure:"failure_threshold"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout"`
	HalfOpenSuccessThreshold int           `mapstructure:"half_open_success_threshold"`
}

// DefaultConfig returns a configuration that runs every service as a
// succeeding stub.
func DefaultConfig() *Config {
	services := make(map[string]ServiceConfig, len(service.All()))
	for _, id := range service.All() {
		services[id.String()] = ServiceConfig{Mode: ModeStub, Outcome: "ok"}
	}
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			BatchConcurrency: 8,
			MaxBatchSize:     100,
			HistorySize:      1000,
			ValidateRequests: true,
		},
		Logger: logger.Config{Level: "info", Format: "json", OutputFile: "stdout"},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "fare-orchestrator",
			TraceSampleRatio: 1.0,
		},
		Plans:    map[string]planbuilder.Spec{},
		Services: services,
		Remote: RemoteConfig{
			Timeout:                  10 * time.Second,
			RetryDelay:               200 * time.Millisecond,
			FailureThreshold:         3,
			ResetTimeout:             30 * time.Second,
			HalfOpenSuccessThreshold: 1,
		},
	}
}

// Validate checks names and modes. Rules and plan masks are checked where
// they are compiled.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Server.BatchConcurrency <= 0 {
		return fmt.Errorf("config: server.batch_concurrency must be positive")
	}
	if c.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("config: server.max_batch_size must be positive")
	}
	for kind := range c.Plans {
		if _, err := trx.ParseKind(kind); err != nil {
			return fmt.Errorf("config: plans.%s: %w", kind, err)
		}
	}
	for name, sc := range c.Services {
		if _, err := service.ParseID(name); err != nil {
			return fmt.Errorf("config: services.%s: %w", name, err)
		}
		switch sc.Mode {
		case "", ModeStub:
		case ModeRemote:
			if sc.URL == "" {
				return fmt.Errorf("config: services.%s: url is required in remote mode", name)
			}
		default:
			return fmt.Errorf("config: services.%s: unknown mode %q", name, sc.Mode)
		}
	}
	return nil
}
