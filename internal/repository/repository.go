// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openrisk/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Listing limits for the query surface.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvaluated upserts a scored transaction and replaces its rule hits in
// a single database transaction. Reprocessing the same id overwrites every
// stored field and discards prior hits; a failure anywhere rolls back the
// whole unit.
func (r *SQLRepository) SaveEvaluated(ctx context.Context, tx *domain.Transaction, hits []domain.Hit) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	flagged := 0
	if tx.IsFlagged {
		flagged = 1
	}

	upsert := `
		INSERT INTO transactions (
			id, customer_id, category, amount, currency,
			merchant, country, channel, device_id, ip_address,
			event_time, created_at, fraud_score, is_flagged
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			category = excluded.category,
			amount = excluded.amount,
			currency = excluded.currency,
			merchant = excluded.merchant,
			country = excluded.country,
			channel = excluded.channel,
			device_id = excluded.device_id,
			ip_address = excluded.ip_address,
			event_time = excluded.event_time,
			created_at = excluded.created_at,
			fraud_score = excluded.fraud_score,
			is_flagged = excluded.is_flagged
	`

	_, err = dbTx.ExecContext(ctx, r.rebind(upsert),
		tx.ID, tx.CustomerID, tx.Category, tx.Amount.String(), tx.Currency,
		tx.Merchant, tx.Country, tx.Channel, tx.DeviceID, tx.IPAddress,
		tx.EventTime, tx.CreatedAt, tx.FraudScore, flagged,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, r.rebind(`DELETE FROM rule_hits WHERE transaction_id = ?`), tx.ID)
	if err != nil {
		return fmt.Errorf("failed to clear rule hits: %w", err)
	}

	insertHit := `
		INSERT INTO rule_hits (
			transaction_id, rule_code, rule_name, score, reason, severity, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, h := range hits {
		_, err = dbTx.ExecContext(ctx, r.rebind(insertHit),
			tx.ID, h.RuleCode, h.RuleName, h.Score, h.Reason, h.Severity, tx.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule hit %s: %w", h.RuleCode, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

const transactionColumns = `id, customer_id, category, amount, currency,
	   merchant, country, channel, device_id, ip_address,
	   event_time, created_at, fraud_score, is_flagged`

func scanTransaction(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string
	var flagged int

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.Category, &amount, &tx.Currency,
		&tx.Merchant, &tx.Country, &tx.Channel, &tx.DeviceID, &tx.IPAddress,
		&tx.EventTime, &tx.CreatedAt, &tx.FraudScore, &flagged,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
	}
	tx.IsFlagged = flagged == 1
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// GetRuleHits retrieves the stored hits for a transaction in their original
// generation order.
func (r *SQLRepository) GetRuleHits(ctx context.Context, txID string) ([]*domain.RuleHit, error) {
	query := `
		SELECT id, transaction_id, rule_code, rule_name, score, reason, severity, created_at
		FROM rule_hits
		WHERE transaction_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*domain.RuleHit
	for rows.Next() {
		var h domain.RuleHit
		if err := rows.Scan(
			&h.ID, &h.TransactionID, &h.RuleCode, &h.RuleName,
			&h.Score, &h.Reason, &h.Severity, &h.CreatedAt,
		); err != nil {
			return nil, err
		}
		hits = append(hits, &h)
	}

	return hits, rows.Err()
}

// ListTransactions retrieves the most recently ingested transactions.
func (r *SQLRepository) ListTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return r.listTransactions(ctx, query, clampLimit(limit))
}

// ListFlagged retrieves the most recently ingested flagged transactions.
func (r *SQLRepository) ListFlagged(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE is_flagged = 1
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return r.listTransactions(ctx, query, clampLimit(limit))
}

func (r *SQLRepository) listTransactions(ctx context.Context, query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// Stats returns total and flagged transaction counts.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.Stats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_flagged = 1 THEN 1 ELSE 0 END), 0)
		FROM transactions
	`

	var s domain.Stats
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.Total, &s.Flagged); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveRule upserts a rule by code.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.FraudRule) error {
	if rule.Code == "" {
		return fmt.Errorf("%w: rule code is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	minAmount := ""
	if rule.MinAmount != nil {
		minAmount = rule.MinAmount.String()
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_rules (
			code, name, enabled, category, min_amount, country_blocklist, score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			category = excluded.category,
			min_amount = excluded.min_amount,
			country_blocklist = excluded.country_blocklist,
			score = excluded.score,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Code, rule.Name, enabled, rule.Category,
		minAmount, rule.CountryBlocklist, rule.Score,
		now, now,
	)
	return err
}

// ListRules retrieves all rules ordered by code.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.FraudRule, error) {
	return r.listRules(ctx, `
		SELECT code, name, enabled, category, min_amount, country_blocklist, score, created_at, updated_at
		FROM fraud_rules
		ORDER BY code
	`)
}

// ListEnabledRules retrieves enabled rules ordered by code. The stable
// order keeps hit generation deterministic across evaluations.
func (r *SQLRepository) ListEnabledRules(ctx context.Context) ([]*domain.FraudRule, error) {
	return r.listRules(ctx, `
		SELECT code, name, enabled, category, min_amount, country_blocklist, score, created_at, updated_at
		FROM fraud_rules
		WHERE enabled = 1
		ORDER BY code
	`)
}

func (r *SQLRepository) listRules(ctx context.Context, query string) ([]*domain.FraudRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		var rule domain.FraudRule
		var enabled int
		var minAmount string

		if err := rows.Scan(
			&rule.Code, &rule.Name, &enabled, &rule.Category,
			&minAmount, &rule.CountryBlocklist, &rule.Score,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		if minAmount != "" {
			d, err := decimal.NewFromString(minAmount)
			if err != nil {
				return nil, fmt.Errorf("corrupt min_amount for rule %s: %w", rule.Code, err)
			}
			rule.MinAmount = &d
		}
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// CountRules returns the number of stored rules, enabled or not.
func (r *SQLRepository) CountRules(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fraud_rules`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
