package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
)

// webhookBody is the JSON posted for each alert. Slack- and
// Mattermost-style incoming webhooks accept it as is.
type webhookBody struct {
	Text string `json:"text"`
}

// WebhookNotifier posts alerts to an HTTP endpoint.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	client := resty.New().
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{client: client, url: cfg.URL}
}

// Notify posts {"text": message}. Non-2xx responses are errors.
func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(webhookBody{Text: message}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}
