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

// Telegram pushes alerts to a chat or channel via the Bot API.
type Telegram struct {
	BotToken      string
	DefaultChatID string
	Client        *http.Client
}

func NewTelegram(botToken, defaultChatID string) *Telegram {
	return &Telegram{
		BotToken:      botToken,
		DefaultChatID: defaultChatID,
		Client:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, target, title, message string) error {
	chatID := target
	if chatID == "" {
		chatID = t.DefaultChatID
	}
	if t.BotToken == "" || chatID == "" {
		return fmt.Errorf("telegram sender not configured")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	payload := map[string]any{
		"chat_id": chatID,
		"text":    title + "\n\n" + message,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}
