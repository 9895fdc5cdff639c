package processor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/bus"
	"github.com/openrisk/kestrel/internal/cache"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-proc-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func validPayload(id string) *domain.TransactionPayload {
	return &domain.TransactionPayload{
		ID:         id,
		CustomerID: "cust-001",
		Category:   "CARD",
		Amount:     "100.00",
		Currency:   "USD",
		Merchant:   "Acme Store",
		Country:    "US",
		Channel:    "POS",
		EventTime:  "2026-01-15T10:30:00Z",
	}
}

func TestProcessValidation(t *testing.T) {
	proc := New(newTestRepo(t), nil, nil, nil, domain.ScoringConfig{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.TransactionPayload)
	}{
		{"MissingID", func(p *domain.TransactionPayload) { p.ID = "  " }},
		{"MissingCustomerID", func(p *domain.TransactionPayload) { p.CustomerID = "" }},
		{"UnknownCategory", func(p *domain.TransactionPayload) { p.Category = "WIRE" }},
		{"MissingAmount", func(p *domain.TransactionPayload) { p.Amount = "" }},
		{"CurrencyTooShort", func(p *domain.TransactionPayload) { p.Currency = "US" }},
		{"CurrencyTooLong", func(p *domain.TransactionPayload) { p.Currency = "CURRENCY9" }},
		{"MissingEventTime", func(p *domain.TransactionPayload) { p.EventTime = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload("tx-invalid")
			tt.mutate(payload)

			_, err := proc.Process(ctx, payload)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got: %v", err)
			}
		})
	}

	t.Run("LowercaseCategoryAccepted", func(t *testing.T) {
		payload := validPayload("tx-lower")
		payload.Category = " card "

		if _, err := proc.Process(ctx, payload); err != nil {
			t.Errorf("expected lowercase category to pass validation, got: %v", err)
		}
	})

	t.Run("NonNumericAmountAccepted", func(t *testing.T) {
		payload := validPayload("tx-badamount")
		payload.Amount = "lots"

		summary, err := proc.Process(ctx, payload)
		if err != nil {
			t.Fatalf("non-numeric amount must not fail validation: %v", err)
		}
		if summary.FraudScore != 0 {
			t.Errorf("coerced zero amount should score 0, got %d", summary.FraudScore)
		}
	})

	t.Run("UnparsableEventTimeAccepted", func(t *testing.T) {
		payload := validPayload("tx-badtime")
		payload.EventTime = "yesterday"

		summary, err := proc.Process(ctx, payload)
		if err != nil {
			t.Fatalf("unparsable event_time must not fail validation: %v", err)
		}

		found := false
		for _, h := range summary.RuleHits {
			if h.RuleCode == "INVALID_TIMESTAMP" {
				found = true
			}
		}
		if !found {
			t.Error("expected INVALID_TIMESTAMP hit")
		}
	})
}

func TestProcessSeedsRulesOnce(t *testing.T) {
	repo := newTestRepo(t)
	proc := New(repo, nil, nil, nil, domain.ScoringConfig{})
	ctx := context.Background()

	if _, err := proc.Process(ctx, validPayload("tx-1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	n, err := repo.CountRules(ctx)
	if err != nil {
		t.Fatalf("CountRules failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 seeded rules, got %d", n)
	}

	// A second processor against the same store must not reseed
	proc2 := New(repo, nil, nil, nil, domain.ScoringConfig{})
	if _, err := proc2.Process(ctx, validPayload("tx-2")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	n, _ = repo.CountRules(ctx)
	if n != 2 {
		t.Errorf("expected 2 rules after second processor, got %d", n)
	}

	// Seeding leaves operator changes alone
	disabled := &domain.FraudRule{Code: "AMT_10K", Name: "Amount >= 10000", Enabled: false, Score: 50}
	if err := repo.SaveRule(ctx, disabled); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	proc3 := New(repo, nil, nil, nil, domain.ScoringConfig{})
	if err := proc3.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	rulesList, _ := repo.ListEnabledRules(ctx)
	for _, r := range rulesList {
		if r.Code == "AMT_10K" {
			t.Error("seeding re-enabled a disabled rule")
		}
	}
}

func TestProcessScoring(t *testing.T) {
	proc := New(newTestRepo(t), nil, nil, nil, domain.ScoringConfig{Threshold: 60})
	ctx := context.Background()

	t.Run("HighAmountNotFlagged", func(t *testing.T) {
		payload := validPayload("tx-amount")
		payload.Amount = "12000"

		summary, err := proc.Process(ctx, payload)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if summary.FraudScore != 50 {
			t.Errorf("expected score 50, got %d", summary.FraudScore)
		}
		if summary.IsFlagged {
			t.Error("score 50 must not be flagged at threshold 60")
		}
		if len(summary.RuleHits) != 1 || summary.RuleHits[0].RuleCode != "AMT_10K" {
			t.Errorf("expected single AMT_10K hit, got %+v", summary.RuleHits)
		}
	})

	t.Run("BlockedCountryPlusWeb", func(t *testing.T) {
		payload := validPayload("tx-country")
		payload.Amount = "500"
		payload.Country = "ng"
		payload.Channel = "WEB"

		summary, err := proc.Process(ctx, payload)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if summary.FraudScore != 35 {
			t.Errorf("expected score 35, got %d", summary.FraudScore)
		}
		if summary.IsFlagged {
			t.Error("score 35 must not be flagged")
		}
	})

	t.Run("FlaggedCombination", func(t *testing.T) {
		payload := validPayload("tx-flagged")
		payload.Amount = "15000"
		payload.Country = "RU"
		payload.Channel = "WEB"

		summary, err := proc.Process(ctx, payload)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		// AMT_10K (50) + BLOCK_COUNTRY (25) + WEB_CHANNEL (10)
		if summary.FraudScore != 85 {
			t.Errorf("expected score 85, got %d", summary.FraudScore)
		}
		if !summary.IsFlagged {
			t.Error("score 85 must be flagged")
		}
		if len(summary.RuleHits) != 3 {
			t.Errorf("expected 3 hits, got %d", len(summary.RuleHits))
		}
	})

	t.Run("SummaryMatchesStoredRows", func(t *testing.T) {
		payload := validPayload("tx-consistency")
		payload.Amount = "15000"
		payload.Country = "RU"

		summary, err := proc.Process(ctx, payload)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}

		stored, err := proc.repo.GetTransaction(ctx, "tx-consistency")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if stored.FraudScore != summary.FraudScore || stored.IsFlagged != summary.IsFlagged {
			t.Errorf("stored scoring diverges from summary: %d/%v vs %d/%v",
				stored.FraudScore, stored.IsFlagged, summary.FraudScore, summary.IsFlagged)
		}

		hits, err := proc.repo.GetRuleHits(ctx, "tx-consistency")
		if err != nil {
			t.Fatalf("GetRuleHits failed: %v", err)
		}
		if len(hits) != len(summary.RuleHits) {
			t.Fatalf("hit count diverges: %d stored vs %d summarized", len(hits), len(summary.RuleHits))
		}
		for i, h := range hits {
			if h.RuleCode != summary.RuleHits[i].RuleCode || h.Score != summary.RuleHits[i].Score {
				t.Errorf("hit %d diverges: %+v vs %+v", i, h, summary.RuleHits[i])
			}
		}
	})
}

func TestProcessReprocessReplaces(t *testing.T) {
	repo := newTestRepo(t)
	proc := New(repo, nil, nil, nil, domain.ScoringConfig{})
	ctx := context.Background()

	payload := validPayload("tx-repeat")
	payload.Amount = "15000"
	payload.Country = "RU"

	first, err := proc.Process(ctx, payload)
	if err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	if first.FraudScore != 75 || !first.IsFlagged {
		t.Fatalf("unexpected first summary: %+v", first)
	}

	payload.Amount = "100"
	payload.Country = "US"

	second, err := proc.Process(ctx, payload)
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if second.FraudScore != 0 || second.IsFlagged {
		t.Errorf("unexpected second summary: %+v", second)
	}

	hits, err := repo.GetRuleHits(ctx, "tx-repeat")
	if err != nil {
		t.Fatalf("GetRuleHits failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected hits fully replaced, got %d stale hits", len(hits))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("reprocess created a duplicate: total %d", stats.Total)
	}
}

func TestProcessIngestionTimeMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	proc := New(repo, nil, nil, nil, domain.ScoringConfig{})
	ctx := context.Background()

	var last time.Time
	for i := 0; i < 20; i++ {
		id := validPayload("tx-mono")
		id.ID = id.ID + string(rune('a'+i))
		if _, err := proc.Process(ctx, id); err != nil {
			t.Fatalf("Process failed: %v", err)
		}

		stored, err := repo.GetTransaction(ctx, id.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if stored.CreatedAt.Before(last) {
			t.Fatalf("ingestion time went backwards: %v after %v", stored.CreatedAt, last)
		}
		last = stored.CreatedAt
	}
}

func TestProcessEventTimeFallback(t *testing.T) {
	repo := newTestRepo(t)
	proc := New(repo, nil, nil, nil, domain.ScoringConfig{})
	ctx := context.Background()

	payload := validPayload("tx-fallback")
	payload.EventTime = "not a timestamp"

	if _, err := proc.Process(ctx, payload); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	stored, err := repo.GetTransaction(ctx, "tx-fallback")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if !stored.EventTime.Equal(stored.CreatedAt) {
		t.Errorf("expected event_time to fall back to ingestion time, got %v vs %v",
			stored.EventTime, stored.CreatedAt)
	}
}

func TestProcessPublishesEvents(t *testing.T) {
	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()

	scored := make(chan *domain.Summary, 10)
	alerts := make(chan *domain.Summary, 10)

	eventBus.Subscribe(ctx, domain.TopicTransactionScored, func(ctx context.Context, msg *domain.Message) error {
		var s domain.Summary
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		scored <- &s
		return nil
	})
	eventBus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		var s domain.Summary
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		alerts <- &s
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	proc := New(repo, nil, eventBus, nil, domain.ScoringConfig{})

	// Not flagged: scored event only
	if _, err := proc.Process(ctx, validPayload("tx-quiet")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	select {
	case s := <-scored:
		if s.TransactionID != "tx-quiet" {
			t.Errorf("unexpected scored event: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for scored event")
	}

	select {
	case s := <-alerts:
		t.Fatalf("unexpected alert for unflagged transaction: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}

	// Flagged: both events
	payload := validPayload("tx-loud")
	payload.Amount = "15000"
	payload.Country = "RU"
	if _, err := proc.Process(ctx, payload); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	select {
	case s := <-alerts:
		if s.TransactionID != "tx-loud" || !s.IsFlagged {
			t.Errorf("unexpected alert event: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for alert event")
	}
}

func TestProcessInvalidatesCache(t *testing.T) {
	repo := newTestRepo(t)
	readCache := cache.NewLRUCache(100)
	proc := New(repo, readCache, nil, nil, domain.ScoringConfig{})
	ctx := context.Background()

	// Simulate a cached read for the id about to be reprocessed
	if err := readCache.Set(ctx, CacheKey("tx-cached"), []byte(`{"stale":true}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := proc.Process(ctx, validPayload("tx-cached")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	val, err := readCache.Get(ctx, CacheKey("tx-cached"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("expected cache entry to be invalidated after processing")
	}
}
