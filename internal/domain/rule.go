package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hit severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// FraudRule is a flat, declarative rule record. A rule carries up to two
// conditions (min amount, country blocklist); each condition that matches
// produces its own hit.
type FraudRule struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// Category restricts the rule to one transaction category. Empty means
	// the rule applies to all categories.
	Category string `json:"category,omitempty"`

	// MinAmount fires a high-severity hit when the transaction amount is
	// greater than or equal to it. Nil disables the check.
	MinAmount *decimal.Decimal `json:"min_amount,omitempty"`

	// CountryBlocklist is a comma-separated list of country codes. Empty
	// disables the check.
	CountryBlocklist string `json:"country_blocklist,omitempty"`

	// Score is the weight added to the fraud score per hit. Rules with a
	// non-positive score never fire.
	Score int `json:"score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleHit is a persisted rule firing for a transaction. Hits are replaced
// wholesale whenever their transaction is reprocessed.
type RuleHit struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	RuleCode      string    `json:"rule_code"`
	RuleName      string    `json:"rule_name"`
	Score         int       `json:"score"`
	Reason        string    `json:"reason"`
	Severity      string    `json:"severity"`
	CreatedAt     time.Time `json:"created_at"`
}

// SeedRules returns the rules installed on first startup when the rule
// table is empty. Seeding is idempotent: a non-empty table is left alone.
func SeedRules() []*FraudRule {
	tenK := decimal.NewFromInt(10000)
	return []*FraudRule{
		{
			Code:      "AMT_10K",
			Name:      "Amount >= 10000",
			Enabled:   true,
			MinAmount: &tenK,
			Score:     50,
		},
		{
			Code:             "BLOCK_COUNTRY",
			Name:             "Blocked countries",
			Enabled:          true,
			CountryBlocklist: "NG,RU",
			Score:            25,
		},
	}
}
