// Slack notifier: posts trade alerts to a per-user incoming webhook.
//
// The channel argument of SendAlert is the user's webhook URL. Each send is
// attempted up to three times; webhook URLs are masked before they appear
// in any log or error message.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kingsick/autotrader/internal/alert"
	"github.com/kingsick/autotrader/internal/strategy"
)

const (
	slackWebhookPrefix = "https://hooks.slack.com/services/"

	slackMaxRetries = 3
	slackRetryDelay = 1 * time.Second
	slackTimeout    = 10 * time.Second
)

// SlackNotifier posts Block Kit alert messages to Slack incoming
// webhooks.
type SlackNotifier struct {
	client *http.Client
	logger *log.Logger
}

// NewSlackNotifier creates a Slack notifier.
func NewSlackNotifier(logger *log.Logger) *SlackNotifier {
	return &SlackNotifier{
		client: &http.Client{Timeout: slackTimeout},
		logger: logger,
	}
}

// ValidateWebhookURL reports whether the URL is a Slack incoming webhook.
func ValidateWebhookURL(url string) bool {
	return strings.HasPrefix(url, slackWebhookPrefix)
}

// MaskWebhookURL hides the secret path of a webhook URL for logging.
func MaskWebhookURL(url string) string {
	if !ValidateWebhookURL(url) {
		return "invalid-webhook-url"
	}
	rest := strings.TrimPrefix(url, slackWebhookPrefix)
	parts := strings.SplitN(rest, "/", 2)
	return slackWebhookPrefix + parts[0] + "/***"
}

// SendAlert posts the alert to the webhook URL given as channel.
func (n *SlackNotifier) SendAlert(ctx context.Context, channel string, a alert.Alert) error {
	if !ValidateWebhookURL(channel) {
		return fmt.Errorf("slack: invalid webhook url %s", MaskWebhookURL(channel))
	}

	payload := map[string]any{
		"text":   fmt.Sprintf("%s signal: %s (%s)", a.SignalKind, a.StockName, a.StockCode),
		"blocks": alertBlocks(a),
	}
	if err := n.send(ctx, channel, payload); err != nil {
		return err
	}
	n.logger.Printf("[slack] alert %s delivered to %s", a.AlertID, MaskWebhookURL(channel))
	return nil
}

// SendTestMessage posts a short connectivity-check message.
func (n *SlackNotifier) SendTestMessage(ctx context.Context, webhookURL string) error {
	if !ValidateWebhookURL(webhookURL) {
		return fmt.Errorf("slack: invalid webhook url %s", MaskWebhookURL(webhookURL))
	}
	return n.send(ctx, webhookURL, map[string]any{
		"text": "autotrader: notification channel connected",
	})
}

// alertBlocks builds the Block Kit layout for a trade alert.
func alertBlocks(a alert.Alert) []map[string]any {
	emoji := ":chart_with_upwards_trend:"
	if a.SignalKind == strategy.SignalSell {
		emoji = ":chart_with_downwards_trend:"
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Stock:*\n%s (%s)", a.StockName, a.StockCode)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Signal:*\n%s", a.SignalKind)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Price:*\n%.0f KRW", a.CurrentPrice)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Quantity:*\n%d shares", a.SuggestedQuantity)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:*\n%.0f%%", a.Confidence*100)},
	}

	return []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s %s Signal", emoji, a.SignalKind),
			},
		},
		{"type": "section", "fields": fields},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Reason:* %s", a.Reason),
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Alert `%s` expires 5 minutes after %s",
					a.AlertID, a.CreatedAt.UTC().Format(time.RFC3339))},
			},
		},
	}
}

func (n *SlackNotifier) send(ctx context.Context, webhookURL string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < slackMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(slackRetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("slack: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)

		// 4xx responses are permanent (revoked or malformed webhook).
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
	}

	return fmt.Errorf("slack: send to %s failed: %w", MaskWebhookURL(webhookURL), lastErr)
}
