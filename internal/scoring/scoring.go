// Package scoring reduces rule hits to a total fraud score and a flagging
// decision.
package scoring

import (
	"github.com/openrisk/kestrel/internal/domain"
)

// Aggregate sums the hit scores and compares the total against the
// configured threshold. The threshold arrives explicitly with every call
// so concurrent evaluations with different configs never interfere.
func Aggregate(hits []domain.Hit, cfg domain.ScoringConfig) (score int, flagged bool) {
	for _, h := range hits {
		score += h.Score
	}
	return score, score >= cfg.Threshold
}

// Summarize builds the API summary for a scored transaction.
func Summarize(txID string, hits []domain.Hit, score int, flagged bool) *domain.Summary {
	if hits == nil {
		hits = []domain.Hit{}
	}
	return &domain.Summary{
		TransactionID: txID,
		FraudScore:    score,
		IsFlagged:     flagged,
		RuleHits:      hits,
	}
}
