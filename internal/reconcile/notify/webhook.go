package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts alerts as a text message to a chat webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends an alert to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: FormatAlert(msg)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

// FormatAlert renders msg as plain text.
func FormatAlert(msg AlertMessage) string {
	var b strings.Builder
	b.WriteString("[Reconcile Alert]\n")
	fmt.Fprintf(&b, "Source: %s\n", msg.Source)
	if msg.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", msg.RunID)
	}
	if msg.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", msg.Mode)
	}
	if !msg.From.IsZero() {
		fmt.Fprintf(&b, "Range: %s - %s\n", msg.From.UTC().Format(time.RFC3339), msg.To.UTC().Format(time.RFC3339))
	}
	if msg.FailedSubPeriods > 0 {
		fmt.Fprintf(&b, "Failed sub-periods: %d\n", msg.FailedSubPeriods)
	}
	if msg.GapsFound > 0 {
		fmt.Fprintf(&b, "Gaps: %d\n", msg.GapsFound)
	}
	if msg.MappingErrors > 0 {
		fmt.Fprintf(&b, "Mapping errors: %d\n", msg.MappingErrors)
	}
	if msg.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", msg.Error)
	}
	if msg.RecommendedAction != "" {
		fmt.Fprintf(&b, "Suggested: %s\n", msg.RecommendedAction)
	}
	return strings.TrimSpace(b.String())
}
