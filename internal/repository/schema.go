package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL except where noted.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    category TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    merchant TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    event_time TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    fraud_score INTEGER NOT NULL DEFAULT 0,
    is_flagged INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_flagged ON transactions(is_flagged, created_at);
`

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    category TEXT NOT NULL DEFAULT '',
    min_amount TEXT NOT NULL DEFAULT '',
    country_blocklist TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_enabled ON fraud_rules(enabled);
`

// rule_hits needs an auto-assigned sequence id that preserves insertion
// order, and autoincrement syntax is the one place SQLite and PostgreSQL
// part ways.
const schemaRuleHitsSQLite = `
CREATE TABLE IF NOT EXISTS rule_hits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    transaction_id TEXT NOT NULL,
    rule_code TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    score INTEGER NOT NULL,
    reason TEXT NOT NULL,
    severity TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_hits_tx ON rule_hits(transaction_id);
`

const schemaRuleHitsPostgres = `
CREATE TABLE IF NOT EXISTS rule_hits (
    id BIGSERIAL PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    rule_code TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    score INTEGER NOT NULL,
    reason TEXT NOT NULL,
    severity TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_hits_tx ON rule_hits(transaction_id);
`

// AllSchemas returns all schema statements for the given driver, in order.
func AllSchemas(driver string) []string {
	hits := schemaRuleHitsSQLite
	if driver == "postgres" {
		hits = schemaRuleHitsPostgres
	}
	return []string{
		schemaTransactions,
		schemaFraudRules,
		hits,
	}
}
