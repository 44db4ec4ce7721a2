package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete engine configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines feature availability
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`

	// Decision policy knobs
	Engine EngineConfig `yaml:"engine"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig holds the decision-policy constants. The defaults come from
// product policy, not derived invariants, so they are configuration rather
// than hard-coded architecture.
type EngineConfig struct {
	// Confidence at or above which the aggregate outcome is eligible.
	EligibleThreshold float64 `yaml:"eligibleThreshold"`

	// Confidence at or below which the aggregate outcome is not_eligible.
	NotEligibleThreshold float64 `yaml:"notEligibleThreshold"`

	// Combined confidence below which a decision is escalated for review.
	ConfidenceFloor float64 `yaml:"confidenceFloor"`

	// Blend weights applied when the rule and AI verdicts agree. The
	// deterministic path is authoritative, so it carries the larger weight.
	RuleWeight float64 `yaml:"ruleWeight"`
	AIWeight   float64 `yaml:"aiWeight"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"serviceName"`
	ExporterType string `yaml:"exporterType"` // stdout, otlp
	Endpoint     string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the product-policy defaults for decision
// thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EligibleThreshold:    0.8,
		NotEligibleThreshold: 0.4,
		ConfidenceFloor:      0.6,
		RuleWeight:           0.6,
		AIWeight:             0.4,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./eligibility.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			VersionTTL:   5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Reasoning: ReasoningConfig{
			TimeoutSecs: 30,
		},
		Engine: DefaultEngineConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "eligibility-engine",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "eligibility",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "eligibility",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		VersionTTL:     5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadFile overlays a YAML config file on top of the given base config.
func LoadFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects threshold combinations that can never produce a stable
// verdict.
func (c EngineConfig) Validate() error {
	if c.EligibleThreshold < 0 || c.EligibleThreshold > 1 {
		return fmt.Errorf("eligibleThreshold must be in [0,1], got %v", c.EligibleThreshold)
	}
	if c.NotEligibleThreshold < 0 || c.NotEligibleThreshold > 1 {
		return fmt.Errorf("notEligibleThreshold must be in [0,1], got %v", c.NotEligibleThreshold)
	}
	if c.NotEligibleThreshold > c.EligibleThreshold {
		return fmt.Errorf("notEligibleThreshold %v exceeds eligibleThreshold %v", c.NotEligibleThreshold, c.EligibleThreshold)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidenceFloor must be in [0,1], got %v", c.ConfidenceFloor)
	}
	if c.RuleWeight < 0 || c.AIWeight < 0 || c.RuleWeight+c.AIWeight == 0 {
		return fmt.Errorf("blend weights must be non-negative and not both zero")
	}
	return nil
}
