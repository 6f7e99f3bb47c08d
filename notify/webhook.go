package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/internal/httpjson"
)

// DefaultWebhookURL is the hosted notification endpoint.
const DefaultWebhookURL = "https://api.openclaw.ai/v1/notifications/send"

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	// URL defaults to DefaultWebhookURL.
	URL    string
	APIKey string
	// Secret is sent as X-Webhook-Secret.
	Secret string

	HTTPClient *http.Client
	MaxTries   uint
	Logger     *slog.Logger
}

// Webhook is a Notifier posting formatted digests to a messaging API.
type Webhook struct {
	http *httpjson.Client
	url  string
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook builds a Webhook from cfg.
func NewWebhook(cfg WebhookConfig) *Webhook {
	url := cfg.URL
	if url == "" {
		url = DefaultWebhookURL
	}
	headers := map[string]string{"X-Webhook-Secret": cfg.Secret}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Webhook{
		http: httpjson.New(httpjson.Config{
			Headers:    headers,
			HTTPClient: cfg.HTTPClient,
			MaxTries:   cfg.MaxTries,
			Logger:     cfg.Logger,
		}),
		url: url,
	}
}

type webhookPayload struct {
	To               string      `json:"to"`
	Message          string      `json:"message"`
	DigestID         string      `json:"digest_id"`
	PaymentReference string      `json:"payment_reference"`
	Digest           digest.View `json:"digest"`
}

// Deliver posts the digest to the configured URL.
func (w *Webhook) Deliver(ctx context.Context, ownerRef string, v digest.View) error {
	payload := webhookPayload{
		To:               ownerRef,
		Message:          FormatMessage(v),
		DigestID:         v.ID,
		PaymentReference: "digest_payment_" + v.ID,
		Digest:           v,
	}
	if err := w.http.Do(ctx, http.MethodPost, w.url, payload, nil, httpjson.Idempotent()); err != nil {
		return fmt.Errorf("notify: deliver %s: %w", v.ID, err)
	}
	return nil
}
