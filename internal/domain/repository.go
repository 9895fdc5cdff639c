// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// SaveEvaluated atomically upserts a scored transaction and replaces
	// its rule hits. Partial writes never survive: a failure anywhere
	// rolls the whole unit back.
	SaveEvaluated(ctx context.Context, tx *Transaction, hits []Hit) error

	// Transaction queries
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetRuleHits(ctx context.Context, txID string) ([]*RuleHit, error)
	ListTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	ListFlagged(ctx context.Context, limit int) ([]*Transaction, error)
	Stats(ctx context.Context) (*Stats, error)

	// Rule operations
	SaveRule(ctx context.Context, rule *FraudRule) error
	ListRules(ctx context.Context) ([]*FraudRule, error)
	ListEnabledRules(ctx context.Context) ([]*FraudRule, error)
	CountRules(ctx context.Context) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
