package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
)

// Webhook POSTs the summary as JSON, retrying with exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *log.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithRetries sets the maximum number of retries. Default: 3.
func WithRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithBackoff sets the first retry delay; later delays double. Default: 1s.
func WithBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *log.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     log.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// payload is the webhook body.
type payload struct {
	Event   string         `json:"event"`
	Summary domain.Summary `json:"summary"`
}

// Notify implements ports.Notifier.
func (w *Webhook) Notify(ctx context.Context, s domain.Summary) error {
	body, err := json.Marshal(payload{Event: "job.completed", Summary: s})
	if err != nil {
		return errs.Wrap(errs.CodeNotify, err, "failed to encode webhook payload")
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := w.backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs.Wrap(errs.CodeNotify, ctx.Err(), "webhook delivery cancelled")
			}
		}

		lastErr = w.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		w.logger.Warn("webhook delivery failed", "attempt", attempt+1, "url", w.url, "error", lastErr)
	}
	return errs.Wrap(errs.CodeNotify, lastErr, "webhook: all retries exhausted")
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "visualdiff")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post report: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Close implements ports.Notifier.
func (w *Webhook) Close() error { return nil }
