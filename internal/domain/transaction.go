package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction categories accepted at ingestion.
const (
	CategoryCard   = "CARD"
	CategoryACH    = "ACH"
	CategoryATM    = "ATM"
	CategoryEFT    = "EFT"
	CategoryPayPal = "PAYPAL"
	CategoryOther  = "OTHER"
)

// ValidCategory reports whether c is one of the accepted categories.
// Comparison is against the already upper-cased value.
func ValidCategory(c string) bool {
	switch c {
	case CategoryCard, CategoryACH, CategoryATM, CategoryEFT, CategoryPayPal, CategoryOther:
		return true
	}
	return false
}

// Transaction is a scored transaction as stored and returned by the API.
type Transaction struct {
	// Core identifiers
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	// Financial details
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Optional context used by the rule evaluator
	Merchant  string `json:"merchant,omitempty"`
	Country   string `json:"country,omitempty"`
	Channel   string `json:"channel,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	// Temporal: EventTime is when the transaction happened (client-supplied),
	// CreatedAt is the server-assigned ingestion time.
	EventTime time.Time `json:"event_time"`
	CreatedAt time.Time `json:"created_at"`

	// Scoring outcome
	FraudScore int  `json:"fraud_score"`
	IsFlagged  bool `json:"is_flagged"`
}

// TransactionPayload is the raw ingestion payload before evaluation.
// Amount and EventTime stay strings here: a malformed amount coerces to
// zero and a malformed timestamp becomes a rule hit, neither fails ingestion.
type TransactionPayload struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Category   string `json:"category"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`

	Merchant  string `json:"merchant,omitempty"`
	Country   string `json:"country,omitempty"`
	Channel   string `json:"channel,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	EventTime string `json:"event_time"`
}
