package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/metrics"
	"github.com/openrisk/kestrel/internal/processor"
	"github.com/openrisk/kestrel/internal/repository"
)

// transactionCacheTTL bounds how long a cached read-path entry survives.
// The processor invalidates on every reprocess, so the TTL only matters if
// another writer touches the database directly.
const transactionCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	processor *processor.Processor
	collector *metrics.Collector
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, proc *processor.Processor, collector *metrics.Collector, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		processor: proc,
		collector: collector,
		version:   version,
	}
}

// TransactionDetail is the response for GET /transactions/{id}.
type TransactionDetail struct {
	Transaction *domain.Transaction `json:"transaction"`
	RuleHits    []*domain.RuleHit   `json:"rule_hits"`
}

// IngestTransaction handles POST /api/v1/transactions.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	var payload domain.TransactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	summary, err := h.processor.Process(r.Context(), &payload)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidPayload) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to process transaction", "transaction_id", payload.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to process transaction",
		})
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

// GetTransaction handles GET /api/v1/transactions/{id}. The read path is
// cache-aside: a hit serves the stored detail, a miss falls through to the
// repository and populates the cache.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, processor.CacheKey(txID)); err == nil && cached != nil {
			var detail TransactionDetail
			if err := json.Unmarshal(cached, &detail); err == nil {
				writeJSON(w, http.StatusOK, &detail)
				return
			}
		}
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	hits, err := h.repo.GetRuleHits(ctx, txID)
	if err != nil {
		slog.Error("failed to get rule hits", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	detail := &TransactionDetail{Transaction: tx, RuleHits: hits}

	if h.cache != nil {
		if data, err := json.Marshal(detail); err == nil {
			if err := h.cache.Set(ctx, processor.CacheKey(txID), data, transactionCacheTTL); err != nil {
				slog.Warn("failed to cache transaction", "id", txID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

// ListTransactions handles GET /api/v1/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.repo.ListTransactions(r.Context(), parseLimit(r))
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListAlerts handles GET /api/v1/fraud/alerts, returning flagged
// transactions newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	txs, err := h.repo.ListFlagged(r.Context(), parseLimit(r))
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": txs,
		"count":  len(txs),
	})
}

// ListRules handles GET /api/v1/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleList, err := h.repo.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// CreateRuleRequest is the request body for creating or replacing a rule.
type CreateRuleRequest struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	Enabled          bool   `json:"enabled"`
	Category         string `json:"category,omitempty"`
	MinAmount        string `json:"min_amount,omitempty"`
	CountryBlocklist string `json:"country_blocklist,omitempty"`
	Score            int    `json:"score"`
}

// CreateRule handles POST /api/v1/rules. Posting an existing code replaces
// the rule; new transactions pick up the change immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "code and name are required",
		})
		return
	}
	if req.Score < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score must not be negative",
		})
		return
	}

	var minAmount *decimal.Decimal
	if strings.TrimSpace(req.MinAmount) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.MinAmount))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "min_amount must be a decimal number",
			})
			return
		}
		minAmount = &parsed
	}

	now := time.Now().UTC()
	rule := &domain.FraudRule{
		Code:             req.Code,
		Name:             strings.TrimSpace(req.Name),
		Enabled:          req.Enabled,
		Category:         strings.ToUpper(strings.TrimSpace(req.Category)),
		MinAmount:        minAmount,
		CountryBlocklist: req.CountryBlocklist,
		Score:            req.Score,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.repo.SaveRule(ctx, rule); err != nil {
		slog.Error("failed to save rule", "code", rule.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule saved", "code", rule.Code, "enabled", rule.Enabled, "score", rule.Score)
	writeJSON(w, http.StatusCreated, rule)
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		slog.Error("failed to get stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// parseLimit reads the optional ?limit query parameter. The repository
// clamps out-of-range values, so 0 just means "use the default".
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
