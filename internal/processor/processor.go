// Package processor orchestrates transaction scoring: validation, rule
// evaluation, aggregation and atomic persistence.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/metrics"
	"github.com/openrisk/kestrel/internal/rules"
	"github.com/openrisk/kestrel/internal/scoring"
)

// ErrInvalidPayload marks ingestion payloads that fail structural
// validation. Malformed amounts and timestamps are not validation errors;
// they degrade during evaluation instead.
var ErrInvalidPayload = errors.New("invalid transaction payload")

// DefaultPersistTimeout bounds the atomic persistence step.
const DefaultPersistTimeout = 5 * time.Second

// Processor scores and persists transactions. Safe for concurrent use.
type Processor struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Collector
	scoring domain.ScoringConfig

	persistTimeout time.Duration

	seedMu sync.Mutex
	seeded bool

	// Ingestion clock: CreatedAt never goes backwards within a process,
	// even if the wall clock does.
	clockMu    sync.Mutex
	lastIngest time.Time
}

// New creates a processor. cache, bus and collector may be nil; the
// corresponding side effects are skipped.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, collector *metrics.Collector, cfg domain.ScoringConfig) *Processor {
	if cfg.Threshold == 0 {
		cfg.Threshold = domain.DefaultScoreThreshold
	}
	return &Processor{
		repo:           repo,
		cache:          cache,
		bus:            bus,
		metrics:        collector,
		scoring:        cfg,
		persistTimeout: DefaultPersistTimeout,
	}
}

// CacheKey returns the read-path cache key for a transaction.
func CacheKey(txID string) string {
	return "tx:" + txID
}

// Bootstrap seeds the default rules if the rule table is empty. It is
// idempotent and also runs lazily on the first Process call, so invoking
// it at startup is an optimization, not a requirement.
func (p *Processor) Bootstrap(ctx context.Context) error {
	return p.ensureSeedRules(ctx)
}

func (p *Processor) ensureSeedRules(ctx context.Context) error {
	p.seedMu.Lock()
	defer p.seedMu.Unlock()

	if p.seeded {
		return nil
	}

	count, err := p.repo.CountRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to count rules: %w", err)
	}

	if count == 0 {
		for _, rule := range domain.SeedRules() {
			if err := p.repo.SaveRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", rule.Code, err)
			}
		}
		slog.Info("seeded default rules", "count", len(domain.SeedRules()))
	}

	p.seeded = true
	return nil
}

// Process validates, evaluates, scores and persists one transaction.
// Resubmitting an id replaces the stored transaction and its hits
// atomically. The returned summary reflects exactly what was persisted.
func (p *Processor) Process(ctx context.Context, payload *domain.TransactionPayload) (*domain.Summary, error) {
	start := time.Now()

	if err := validate(payload); err != nil {
		if p.metrics != nil {
			p.metrics.RecordRejected()
		}
		return nil, err
	}

	if err := p.ensureSeedRules(ctx); err != nil {
		return nil, p.fail(err)
	}

	active, err := p.repo.ListEnabledRules(ctx)
	if err != nil {
		return nil, p.fail(fmt.Errorf("failed to load rules: %w", err))
	}

	hits := rules.Evaluate(payload, active)
	score, flagged := scoring.Aggregate(hits, p.scoring)

	tx := p.buildTransaction(payload, score, flagged)

	persistCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()
	if err := p.repo.SaveEvaluated(persistCtx, tx, hits); err != nil {
		return nil, p.fail(fmt.Errorf("failed to persist transaction %s: %w", tx.ID, err))
	}

	p.invalidate(ctx, tx.ID)

	summary := scoring.Summarize(tx.ID, hits, score, flagged)
	p.publish(ctx, summary)

	if p.metrics != nil {
		p.metrics.RecordProcessed(score, flagged, time.Since(start).Seconds())
	}

	slog.Info("transaction scored",
		"transaction_id", tx.ID,
		"fraud_score", score,
		"is_flagged", flagged,
		"rule_hits", len(hits),
	)

	return summary, nil
}

func (p *Processor) fail(err error) error {
	if p.metrics != nil {
		p.metrics.RecordFailed()
	}
	return err
}

// buildTransaction converts the raw payload into the stored record.
// Matching fields are stored normalized so stored rows agree with the
// hits that were generated from them.
func (p *Processor) buildTransaction(payload *domain.TransactionPayload, score int, flagged bool) *domain.Transaction {
	createdAt := p.ingestTime()

	eventTime, ok := rules.ParseEventTime(payload.EventTime)
	if !ok {
		// Unparsable event_time already produced its hit; fall back to
		// the ingestion time for storage.
		eventTime = createdAt
	}

	return &domain.Transaction{
		ID:         strings.TrimSpace(payload.ID),
		CustomerID: strings.TrimSpace(payload.CustomerID),
		Category:   normalize(payload.Category),
		Amount:     rules.CoerceAmount(payload.Amount),
		Currency:   normalize(payload.Currency),
		Merchant:   strings.TrimSpace(payload.Merchant),
		Country:    normalize(payload.Country),
		Channel:    normalize(payload.Channel),
		DeviceID:   strings.TrimSpace(payload.DeviceID),
		IPAddress:  strings.TrimSpace(payload.IPAddress),
		EventTime:  eventTime,
		CreatedAt:  createdAt,
		FraudScore: score,
		IsFlagged:  flagged,
	}
}

// ingestTime returns a server-assigned ingestion timestamp that is
// monotonically non-decreasing across calls.
func (p *Processor) ingestTime() time.Time {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()

	now := time.Now().UTC()
	if now.Before(p.lastIngest) {
		now = p.lastIngest
	}
	p.lastIngest = now
	return now
}

// invalidate drops the cached read-path entry so the next GET sees the
// fresh hit set. Best effort: a cache error never fails processing.
func (p *Processor) invalidate(ctx context.Context, txID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, CacheKey(txID)); err != nil {
		slog.Warn("cache invalidation failed", "transaction_id", txID, "error", err)
	}
}

// publish emits the scored event, plus an alert event for flagged
// transactions. Publishing happens only after the commit succeeded and is
// best effort.
func (p *Processor) publish(ctx context.Context, summary *domain.Summary) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		slog.Error("failed to marshal summary event", "transaction_id", summary.TransactionID, "error", err)
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		slog.Warn("failed to publish scored event", "transaction_id", summary.TransactionID, "error", err)
	}

	if summary.IsFlagged {
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert event", "transaction_id", summary.TransactionID, "error", err)
		}
	}
}

// validate checks the structural requirements of the payload. Amount must
// be present but does not need to parse; event_time must be present but
// does not need to parse.
func validate(p *domain.TransactionPayload) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidPayload)
	}
	if !domain.ValidCategory(normalize(p.Category)) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidPayload, p.Category)
	}
	if strings.TrimSpace(p.Amount) == "" {
		return fmt.Errorf("%w: amount is required", ErrInvalidPayload)
	}
	if n := len(normalize(p.Currency)); n < 3 || n > 8 {
		return fmt.Errorf("%w: currency must be 3-8 characters", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.EventTime) == "" {
		return fmt.Errorf("%w: event_time is required", ErrInvalidPayload)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
