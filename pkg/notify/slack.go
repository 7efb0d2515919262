package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// SlackWebhook posts messages to a Slack incoming webhook.
type SlackWebhook struct {
	URL       string
	Channel   string
	Username  string
	IconEmoji string
	Timeout   time.Duration

	// Client defaults to an http.Client with Timeout.
	Client *http.Client
}

type slackPayload struct {
	Text        string            `json:"text"`
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	MrkdwnIn []string     `json:"mrkdwn_in"`
	Fallback string       `json:"fallback"`
	Fields   []slackField `json:"fields"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Payload renders msg as a Slack webhook body.
func (w *SlackWebhook) Payload(msg Message) ([]byte, error) {
	fields := make([]slackField, len(msg.Fields))
	for i, f := range msg.Fields {
		fields[i] = slackField{Title: f.Key, Value: engine.FormatValue(f.Value), Short: true}
	}
	return json.Marshal(slackPayload{
		Text:      msg.Text,
		Channel:   w.Channel,
		Username:  w.Username,
		IconEmoji: w.IconEmoji,
		Attachments: []slackAttachment{{
			Color:    slackColor(msg.Status),
			MrkdwnIn: []string{"text"},
			Fallback: "Details",
			Fields:   fields,
		}},
	})
}

// Send implements Handler.
func (w *SlackWebhook) Send(ctx context.Context, msg Message) error {
	body, err := w.Payload(msg)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client().Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %s: %s", resp.Status, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *SlackWebhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func slackColor(status engine.NotificationStatus) string {
	switch status {
	case engine.StatusSuccess:
		return "good"
	case engine.StatusFailure:
		return "danger"
	default:
		return "warning"
	}
}
