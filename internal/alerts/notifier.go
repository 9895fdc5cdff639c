// Package alerts delivers webhook notifications for flagged transactions.
//
// The notifier subscribes to the alert topic and posts the JSON summary to
// every configured URL. Failed deliveries are logged but not retried.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// Notifier forwards alert events from the bus to webhook endpoints.
type Notifier struct {
	bus    domain.EventBus
	urls   []string
	client *http.Client

	mu  sync.Mutex
	sub domain.Subscription
	wg  sync.WaitGroup
}

// New creates a notifier for the given webhook URLs.
func New(bus domain.EventBus, cfg domain.AlertConfig) *Notifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Notifier{
		bus:  bus,
		urls: cfg.WebhookURLs,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Start subscribes to the alert topic. A notifier without URLs is a no-op.
func (n *Notifier) Start(ctx context.Context) error {
	if len(n.urls) == 0 {
		return nil
	}

	sub, err := n.bus.Subscribe(ctx, domain.TopicAlert, n.handleAlert)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()

	slog.Info("alert notifier started", "webhook_count", len(n.urls))
	return nil
}

// Stop unsubscribes and waits for in-flight deliveries.
func (n *Notifier) Stop() error {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}

	n.wg.Wait()
	return nil
}

func (n *Notifier) handleAlert(ctx context.Context, msg *domain.Message) error {
	var summary domain.Summary
	if err := json.Unmarshal(msg.Payload, &summary); err != nil {
		slog.Error("alerts: failed to parse alert event", "message_id", msg.ID, "error", err)
		return err
	}

	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.send(url, &summary)
		}(url)
	}
	return nil
}

// send delivers a single webhook call and logs the outcome.
func (n *Notifier) send(url string, summary *domain.Summary) {
	body, err := json.Marshal(summary)
	if err != nil {
		slog.Error("alerts: failed to marshal payload", "transaction_id", summary.TransactionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("alerts: failed to build request", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kestrel-Event", "transaction.flagged")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("alerts: delivery failed", "url", url, "transaction_id", summary.TransactionID, "error", err)
		return
	}
	defer resp.Body.Close()

	slog.Info("alerts: delivered",
		"url", url,
		"status", resp.StatusCode,
		"transaction_id", summary.TransactionID,
		"fraud_score", summary.FraudScore,
	)
}
