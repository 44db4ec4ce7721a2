package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Rule set operations
	SaveRuleSet(ctx context.Context, rs *RuleSet) error
	GetRuleSet(ctx context.Context, id string) (*RuleSet, error)
	ListRuleSets(ctx context.Context) ([]*RuleSet, error)

	// Rule version operations. CreateRuleVersion inserts a draft.
	// UpdateRuleVersion and PublishRuleVersion are compare-and-swap writes
	// conditioned on the caller's observed monotonic version; a stale
	// observation fails with ErrOptimisticLock.
	CreateRuleVersion(ctx context.Context, v *RuleVersion) error
	UpdateRuleVersion(ctx context.Context, v *RuleVersion, expectedVersion int64) error
	PublishRuleVersion(ctx context.Context, versionID string, expectedVersion int64) error
	GetRuleVersion(ctx context.Context, id string) (*RuleVersion, error)
	ListRuleVersions(ctx context.Context, ruleSetID string) ([]*RuleVersion, error)
	PublishedVersions(ctx context.Context, ruleSetID string) ([]*RuleVersion, error)

	// Fact operations. Facts are append-only; AppendFact never overwrites.
	AppendFact(ctx context.Context, f *Fact) error
	ListFacts(ctx context.Context, caseID string) ([]*Fact, error)

	// Decision operations
	SaveDecision(ctx context.Context, d *CombinedResult) error
	GetDecision(ctx context.Context, id string) (*CombinedResult, error)
	ListDecisions(ctx context.Context, caseID string) ([]*CombinedResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
