// Package rules implements the fraud rule evaluator.
//
// Evaluation is a pure function over the raw payload and the active rule
// set: no I/O, no clock reads beyond timestamp parsing, and the same inputs
// always produce the same hits in the same order. Configured rules are
// applied first, built-in heuristics after.
package rules

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/openrisk/kestrel/internal/domain"
)

// Built-in heuristic codes and scores.
const (
	CodeWebChannel       = "WEB_CHANNEL"
	CodeShortMerchant    = "SUSPICIOUS_MERCHANT_NAME"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"

	scoreWebChannel       = 10
	scoreShortMerchant    = 10
	scoreInvalidTimestamp = 5
)

// Timestamp layouts accepted for event_time, tried in order. Naive layouts
// (no zone) are interpreted as UTC.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Evaluate applies every enabled rule and then the built-in heuristics to
// the payload, returning the hits in generation order. Hits are additive
// and never deduplicated: a rule with both a min-amount and a blocklist
// condition can contribute two hits.
func Evaluate(p *domain.TransactionPayload, active []*domain.FraudRule) []domain.Hit {
	amount := CoerceAmount(p.Amount)
	country := normalize(p.Country)
	channel := normalize(p.Channel)
	category := normalize(p.Category)
	merchant := strings.TrimSpace(p.Merchant)

	var hits []domain.Hit
	for _, rule := range active {
		if !rule.Enabled || rule.Score <= 0 {
			continue
		}
		if rc := normalize(rule.Category); rc != "" && rc != category {
			continue
		}

		if rule.MinAmount != nil && amount.GreaterThanOrEqual(*rule.MinAmount) {
			hits = append(hits, domain.Hit{
				RuleCode: rule.Code,
				RuleName: rule.Name,
				Score:    rule.Score,
				Reason:   fmt.Sprintf("Amount %s >= %s", amount.String(), rule.MinAmount.String()),
				Severity: domain.SeverityHigh,
			})
		}

		if blocked := csvSet(rule.CountryBlocklist); len(blocked) > 0 && country != "" && blocked[country] {
			hits = append(hits, domain.Hit{
				RuleCode: rule.Code,
				RuleName: rule.Name,
				Score:    rule.Score,
				Reason:   fmt.Sprintf("Country %s is in blocklist", country),
				Severity: domain.SeverityHigh,
			})
		}
	}

	if channel == "WEB" {
		hits = append(hits, domain.Hit{
			RuleCode: CodeWebChannel,
			RuleName: "WEB channel",
			Score:    scoreWebChannel,
			Reason:   "Transaction channel is WEB",
			Severity: domain.SeverityMedium,
		})
	}

	if merchant != "" && utf8.RuneCountInString(merchant) <= 2 {
		hits = append(hits, domain.Hit{
			RuleCode: CodeShortMerchant,
			RuleName: "Suspicious merchant name",
			Score:    scoreShortMerchant,
			Reason:   "Merchant name looks suspiciously short",
			Severity: domain.SeverityLow,
		})
	}

	if raw := strings.TrimSpace(p.EventTime); raw != "" {
		if _, ok := ParseEventTime(raw); !ok {
			hits = append(hits, domain.Hit{
				RuleCode: CodeInvalidTimestamp,
				RuleName: "Invalid timestamp",
				Score:    scoreInvalidTimestamp,
				Reason:   "Transaction timestamp could not be parsed",
				Severity: domain.SeverityLow,
			})
		}
	}

	return hits
}

// CoerceAmount parses a decimal amount string. Unparsable or absent values
// coerce to zero; coercion never fails.
func CoerceAmount(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseEventTime parses an ISO-8601 timestamp. Naive timestamps are treated
// as UTC. The second return value is false when the value is empty or does
// not match any accepted layout.
func ParseEventTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalize trims whitespace and upper-cases, so matching is
// case-insensitive and absent fields become "".
func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// csvSet splits a comma-separated blocklist into a normalized membership
// set. Blank entries are dropped.
func csvSet(csv string) map[string]bool {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, entry := range strings.Split(csv, ",") {
		if e := normalize(entry); e != "" {
			set[e] = true
		}
	}
	return set
}
