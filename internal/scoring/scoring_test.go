package scoring

import (
	"testing"

	"github.com/openrisk/kestrel/internal/domain"
)

func TestAggregate(t *testing.T) {
	cfg := domain.ScoringConfig{Threshold: 60}

	tests := []struct {
		name    string
		scores  []int
		want    int
		flagged bool
	}{
		{"Empty", nil, 0, false},
		{"SingleBelowThreshold", []int{50}, 50, false},
		{"SumAtThreshold", []int{50, 10}, 60, true},
		{"SumAboveThreshold", []int{50, 25, 10}, 85, true},
		{"JustUnder", []int{25, 10, 10, 5, 9}, 59, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits []domain.Hit
			for _, s := range tt.scores {
				hits = append(hits, domain.Hit{Score: s})
			}
			score, flagged := Aggregate(hits, cfg)
			if score != tt.want {
				t.Errorf("score = %d, want %d", score, tt.want)
			}
			if flagged != tt.flagged {
				t.Errorf("flagged = %v, want %v", flagged, tt.flagged)
			}
		})
	}

	t.Run("CustomThreshold", func(t *testing.T) {
		hits := []domain.Hit{{Score: 30}}
		if _, flagged := Aggregate(hits, domain.ScoringConfig{Threshold: 30}); !flagged {
			t.Error("expected flagged at custom threshold 30")
		}
		if _, flagged := Aggregate(hits, domain.ScoringConfig{Threshold: 31}); flagged {
			t.Error("expected not flagged below custom threshold 31")
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Run("NilHitsBecomeEmptySlice", func(t *testing.T) {
		s := Summarize("tx-1", nil, 0, false)
		if s.RuleHits == nil {
			t.Error("expected empty slice, got nil")
		}
		if s.TransactionID != "tx-1" {
			t.Errorf("unexpected transaction id %s", s.TransactionID)
		}
	})

	t.Run("CarriesScoreAndFlag", func(t *testing.T) {
		hits := []domain.Hit{{RuleCode: "A", Score: 50}, {RuleCode: "B", Score: 25}}
		s := Summarize("tx-2", hits, 75, true)
		if s.FraudScore != 75 || !s.IsFlagged {
			t.Errorf("unexpected summary: %+v", s)
		}
		if len(s.RuleHits) != 2 {
			t.Errorf("expected 2 hits, got %d", len(s.RuleHits))
		}
	})
}
