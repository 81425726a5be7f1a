package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const telegramSendURL = "https://api.telegram.org/bot%s/sendMessage"

// Telegram pushes messages to a chat or channel via the bot API.
// Delivery is best-effort with a few retries; callers treat failures as
// log-worthy, never cycle-fatal.
type Telegram struct {
	botToken string
	chatID   string
	client   *http.Client
	retries  int
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 15 * time.Second},
		retries:  3,
	}
}

func (t *Telegram) Notify(kind Kind, text string) error {
	return t.SendText(fmt.Sprintf("[%s]\n%s", kind, text))
}

// SendText sends a Markdown message, backing off linearly between tries.
func (t *Telegram) SendText(text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram config incomplete")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= t.retries; attempt++ {
		if lastErr = t.post(body); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return lastErr
}

func (t *Telegram) post(body []byte) error {
	resp, err := t.client.Post(fmt.Sprintf(telegramSendURL, t.botToken), "application/json", bytes.NewReader(body))
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
