// Package config loads the daemon configuration: endpoints, the cascade,
// timeouts, the health backend, and the listen addresses. Credentials and
// URLs support ${ENV} expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acteon/acteon/internal/cascade"
)

type Config struct {
	LogLevel   string             `yaml:"log_level"`
	DataDir    string             `yaml:"data_dir"`
	ActionsDir string             `yaml:"actions_dir"`
	Timeouts   TimeoutConfig      `yaml:"timeouts"`
	Endpoints  []cascade.Endpoint `yaml:"endpoints"`
	Cascade    cascade.Config     `yaml:"cascade"`
	Health     HealthConfig       `yaml:"health"`
	Bridge     BridgeConfig       `yaml:"bridge"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Verify     VerifyConfig       `yaml:"verify"`
}

type TimeoutConfig struct {
	Step string `yaml:"step"`
	LLM  string `yaml:"llm"`
}

// StepTimeout returns the configured step timeout, or fallback.
func (t TimeoutConfig) StepTimeout(fallback time.Duration) time.Duration {
	return parseDuration(t.Step, fallback)
}

// LLMTimeout returns the configured model-call timeout, or fallback.
func (t TimeoutConfig) LLMTimeout(fallback time.Duration) time.Duration {
	return parseDuration(t.LLM, fallback)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

type HealthConfig struct {
	Backend   string `yaml:"backend"` // "memory" (default) or "redis"
	RedisAddr string `yaml:"redis_addr"`
}

type BridgeConfig struct {
	Listen string `yaml:"listen"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type VerifyConfig struct {
	// Schedule is a cron expression for periodic model re-verification;
	// empty disables it.
	Schedule string `yaml:"schedule"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInEndpoints(cfg *Config) {
	for i, ep := range cfg.Endpoints {
		ep.URL = expandEnv(ep.URL)
		ep.Credential = expandEnv(ep.Credential)
		ep.ModelsURL = expandEnv(ep.ModelsURL)
		cfg.Endpoints[i] = ep
	}
}

// EndpointMap keys the endpoint list by id.
func (c *Config) EndpointMap() map[string]cascade.Endpoint {
	m := make(map[string]cascade.Endpoint, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		m[ep.ID] = ep
	}
	return m
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInEndpoints(&cfg)

	for i, ep := range cfg.Endpoints {
		if ep.ID == "" {
			return nil, fmt.Errorf("endpoint %d without an id", i)
		}
		if ep.URL == "" {
			return nil, fmt.Errorf("endpoint %q without a url", ep.ID)
		}
	}
	if err := cfg.Cascade.Check(cfg.EndpointMap()); err != nil {
		return nil, err
	}
	return &cfg, nil
}
