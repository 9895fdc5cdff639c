package domain

// Hit is a single rule firing produced by the evaluator, before persistence
// assigns it a sequence id. Order is generation order: configured rules
// first, built-in heuristics after.
type Hit struct {
	RuleCode string `json:"rule_code"`
	RuleName string `json:"rule_name"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
}

// Summary is the processing result for one transaction.
type Summary struct {
	TransactionID string `json:"transaction_id"`
	FraudScore    int    `json:"fraud_score"`
	IsFlagged     bool   `json:"is_flagged"`
	RuleHits      []Hit  `json:"rule_hits"`
}

// Stats holds aggregate counts over stored transactions.
type Stats struct {
	Total   int64 `json:"total"`
	Flagged int64 `json:"flagged"`
}
