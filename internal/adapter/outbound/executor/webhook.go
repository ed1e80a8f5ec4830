package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// DefaultWebhookTimeout bounds a single webhook call.
const DefaultWebhookTimeout = 30 * time.Second

// maxResponseBytes caps the response body read from the webhook.
const maxResponseBytes = 1 << 20

// ErrWebhookStatus is returned when the webhook answers with a non-2xx status.
var ErrWebhookStatus = errors.New("webhook returned error status")

// WebhookConfig configures a Webhook executor.
type WebhookConfig struct {
	// URL receives POST requests.
	URL string
	// Token, if set, is sent as a bearer token.
	Token string
	// Timeout bounds each call (default 30s).
	Timeout time.Duration
}

// webhookRequest is the JSON body POSTed to the webhook.
type webhookRequest struct {
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

// Webhook performs actions by POSTing {action, arguments} to an operator
// endpoint. The decoded JSON response body is the result. Calls are never
// retried.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

var _ outbound.Executor = (*Webhook)(nil)

// NewWebhook creates a Webhook executor.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Execute implements outbound.Executor.
func (w *Webhook) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(webhookRequest{Action: action, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("%w: %d %s", ErrWebhookStatus, resp.StatusCode, snippet)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode webhook response: %w", err)
	}
	return out, nil
}
