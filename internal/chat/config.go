package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/storeguard/internal/provider"
	"github.com/flemzord/storeguard/internal/quota"
	"github.com/flemzord/storeguard/internal/security"
)

// Config is the guard.chat module configuration.
type Config struct {
	// RateLimits overrides individual scopes; the rest keep their defaults.
	RateLimits map[security.Scope]security.Limit `yaml:"rate_limits"`

	Content  security.ContentValidatorConfig `yaml:"content"`
	Behavior security.BehaviorConfig         `yaml:"behavior"`
	Quota    QuotaConfig                     `yaml:"quota"`
	Events   EventsConfig                    `yaml:"events"`

	// Providers lists provider module IDs in failover order.
	Providers      []string              `yaml:"providers"`
	ProviderHealth provider.HealthConfig `yaml:"provider_health"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	MaxHistory      int           `yaml:"max_history"`

	// Catalog replaces the built-in demo catalog when set.
	Catalog *Catalog `yaml:"catalog"`

	Jobs JobsConfig `yaml:"jobs"`
}

// QuotaConfig holds the provider budget and the optional usage oracle.
type QuotaConfig struct {
	quota.Limits `yaml:",inline"`
	Oracle       OracleConfig `yaml:"oracle"`
}

// OracleConfig selects the usage oracle. Without Prometheus the local
// counters are authoritative.
type OracleConfig struct {
	Prometheus *quota.PrometheusConfig `yaml:"prometheus"`
	Timeout    time.Duration           `yaml:"timeout"`
}

// EventsConfig configures the security event log.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
	// Sink is a JSON-lines file receiving every event. Relative paths are
	// resolved against the data directory. Empty disables it.
	Sink string `yaml:"sink"`
}

// JobsConfig schedules the housekeeping jobs.
type JobsConfig struct {
	SweepSchedule     string        `yaml:"sweep_schedule"`
	ReconcileSchedule string        `yaml:"reconcile_schedule"`
	SweepGrace        time.Duration `yaml:"sweep_grace"`
	ActivityIdle      time.Duration `yaml:"activity_idle"`
}

// defaultConfig is decoded over, so absent keys keep these values.
func defaultConfig() Config {
	return Config{
		Quota:     QuotaConfig{Limits: quota.DefaultLimits()},
		Providers: []string{"provider.gemini", "provider.openai"},
		Jobs: JobsConfig{
			SweepGrace:   time.Hour,
			ActivityIdle: 30 * time.Minute,
		},
	}
}

func (c *Config) validate() error {
	var errs []error
	for scope, l := range c.RateLimits {
		if err := l.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limits.%s: %w", scope, err))
		}
	}
	if err := c.Quota.Limits.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("quota: %w", err))
	}
	if c.UpstreamTimeout < 0 {
		errs = append(errs, errors.New("upstream_timeout must not be negative"))
	}
	if c.MaxHistory < 0 {
		errs = append(errs, errors.New("max_history must not be negative"))
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, id := range c.Providers {
		if seen[id] {
			errs = append(errs, fmt.Errorf("providers: %q listed twice", id))
		}
		seen[id] = true
	}
	if c.Catalog != nil && c.Catalog.StoreName == "" {
		errs = append(errs, errors.New("catalog.store_name is required when catalog is set"))
	}
	return errors.Join(errs...)
}

// settings builds the hot-swappable pipeline tunables.
func (c *Config) settings() (Settings, error) {
	v, err := security.NewContentValidator(c.Content)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Limits:          c.RateLimits,
		Validator:       v,
		Detector:        security.NewBotBehaviorDetector(c.Behavior),
		MaxHistory:      c.MaxHistory,
		UpstreamTimeout: c.UpstreamTimeout,
	}
	if c.Catalog != nil {
		s.Catalog = *c.Catalog
	}
	return s, nil
}
