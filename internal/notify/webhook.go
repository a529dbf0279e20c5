package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook POSTs alerts as JSON to an owner-supplied URL.
type Webhook struct {
	DefaultURL string
	Client     *http.Client
}

func NewWebhook(defaultURL string) *Webhook {
	return &Webhook{
		DefaultURL: defaultURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, target, title, message string) error {
	url := target
	if url == "" {
		url = w.DefaultURL
	}
	if url == "" {
		return fmt.Errorf("webhook sender not configured")
	}
	payload := map[string]any{
		"title":   title,
		"message": message,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status=%d", resp.StatusCode)
	}
	return nil
}
