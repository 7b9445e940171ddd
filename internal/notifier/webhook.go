// Package notifier posts a run summary to an optional webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Notifier delivers a short human-readable message.
type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// WebhookNotifier posts messages as Discord-compatible JSON payloads.
type WebhookNotifier struct {
	client     *http.Client
	webhookURL string
}

// NewWebhook builds a notifier for the given webhook URL.
func NewWebhook(client *http.Client, webhookURL string) *WebhookNotifier {
	if client == nil {
		client = http.DefaultClient
	}

	return &WebhookNotifier{client: client, webhookURL: webhookURL}
}

// Notify posts content to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, content string) error {
	if n.webhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
