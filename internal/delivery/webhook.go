// Package delivery posts workflow results to the caller-supplied webhook
// with bounded retry. A result is never silently dropped: exhausting the
// attempt ceiling is a distinct, recorded failure.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"

	"voicepassport/internal/platform/config"
	"voicepassport/internal/platform/metrics"
	dErrors "voicepassport/pkg/domain-errors"
)

// Webhook delivers JSON payloads over HTTP POST.
type Webhook struct {
	client  *http.Client
	policy  config.Retry
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Webhook deliverer.
type Option func(*Webhook)

// WithLogger sets a logger for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Webhook) { w.logger = logger }
}

// WithMetrics records attempt and exhaustion counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Webhook) { w.metrics = m }
}

// WithHTTPClient overrides the default client (tests, custom transports).
func WithHTTPClient(client *http.Client) Option {
	return func(w *Webhook) { w.client = client }
}

// NewWebhook builds a deliverer with the given retry policy.
func NewWebhook(policy config.Retry, opts ...Option) *Webhook {
	w := &Webhook{
		client: http.DefaultClient,
		policy: policy,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deliver validates the target URL, then posts the payload until a 2xx
// response or the attempt ceiling. A malformed URL is rejected before any
// network call; exhaustion surfaces CodeDeliveryExhausted.
func (w *Webhook) Deliver(ctx context.Context, webhookURL string, payload any) error {
	if err := validateURL(webhookURL); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal workflow result")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.policy.InitialInterval
	policy.MaxInterval = w.policy.MaxInterval
	policy.MaxElapsedTime = 0 // attempts bound the loop, not wall time

	attempts := 0
	operation := func() error {
		attempts++
		if w.metrics != nil {
			w.metrics.WebhookAttempts.Inc()
		}
		return w.post(ctx, webhookURL, body)
	}

	maxRetries := uint64(0)
	if w.policy.MaxAttempts > 1 {
		maxRetries = uint64(w.policy.MaxAttempts - 1)
	}
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
	if err != nil {
		if w.metrics != nil {
			w.metrics.WebhookExhausted.Inc()
		}
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "webhook delivery exhausted",
				"url", webhookURL,
				"attempts", attempts,
				"error", err,
			)
		}
		return dErrors.Wrap(err, dErrors.CodeDeliveryExhausted,
			fmt.Sprintf("webhook delivery failed after %d attempts", attempts))
	}

	if w.logger != nil {
		w.logger.InfoContext(ctx, "webhook delivered",
			"url", webhookURL,
			"attempts", attempts,
		)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, webhookURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// validateURL enforces the strict shape check: absolute, http or https,
// host present. Anything else is rejected before a single byte is sent.
func validateURL(raw string) error {
	if raw == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "webhook url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "webhook url is malformed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return dErrors.New(dErrors.CodeInvalidInput, "webhook url scheme must be http or https")
	}
	if u.Host == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "webhook url must have a host")
	}
	return nil
}
