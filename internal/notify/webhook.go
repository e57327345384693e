package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/bidengine/internal/crypto"
)

// WebhookSender posts the raw event as JSON to an HTTP endpoint, signed with
// HMAC so the receiver can authenticate it.
type WebhookSender struct {
	url    string
	auth   *crypto.HMACAuth
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. A nil auth sends unsigned
// requests.
func NewWebhookSender(endpoint string, auth *crypto.HMACAuth, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{url: endpoint, auth: auth, client: &http.Client{Timeout: timeout}}
}

// Send posts msg.Event.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg.Event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(msg.Event.Type))
	if w.auth != nil {
		path := "/"
		if u, err := url.Parse(w.url); err == nil && u.Path != "" {
			path = u.Path
		}
		for k, v := range w.auth.Headers(http.MethodPost, path, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "webhook".
func (w *WebhookSender) Name() string { return "webhook" }
