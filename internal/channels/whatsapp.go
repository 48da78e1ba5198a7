package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WahaSender delivers WhatsApp messages through a WAHA instance.
type WahaSender struct {
	baseURL string
	apiKey  string
	session string
	client  *http.Client

	// Pauses between the seen, typing and send calls so the chat looks human.
	seenDelay   time.Duration
	typingDelay time.Duration
	stopDelay   time.Duration
}

func NewWahaSender(baseURL, apiKey, session string) *WahaSender {
	if baseURL == "" {
		baseURL = "http://waha:3000"
	}
	if session == "" {
		session = "default"
	}
	return &WahaSender{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		session:     session,
		client:      &http.Client{Timeout: 15 * time.Second},
		seenDelay:   100 * time.Millisecond,
		typingDelay: 150 * time.Millisecond,
		stopDelay:   50 * time.Millisecond,
	}
}

// WithoutDelays drops the human-like pauses.
func (s *WahaSender) WithoutDelays() *WahaSender {
	s.seenDelay, s.typingDelay, s.stopDelay = 0, 0, 0
	return s
}

func (s *WahaSender) makeRequest(ctx context.Context, endpoint string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *WahaSender) chatRequest(ctx context.Context, endpoint, chatID string) error {
	return s.makeRequest(ctx, endpoint, map[string]string{
		"chatId":  chatID,
		"session": s.session,
	})
}

// ChatID turns a phone number into a WAHA personal chat id.
func ChatID(phone string) string {
	phone = strings.TrimSuffix(strings.TrimSpace(phone), "@c.us")
	msisdn := NormalizeMSISDN(phone)
	if msisdn == "" {
		return ""
	}
	return msisdn + "@c.us"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send goes through seen, typing and stop typing before the text itself.
func (s *WahaSender) Send(ctx context.Context, recipient string, msg Message) (SendResult, error) {
	chatID := ChatID(recipient)
	if chatID == "" {
		return SendResult{}, fmt.Errorf("invalid whatsapp recipient %q", recipient)
	}

	if err := s.chatRequest(ctx, "/api/sendSeen", chatID); err != nil {
		return SendResult{}, fmt.Errorf("failed to send seen: %w", err)
	}
	if err := sleepCtx(ctx, s.seenDelay); err != nil {
		return SendResult{}, err
	}

	if err := s.chatRequest(ctx, "/api/startTyping", chatID); err != nil {
		return SendResult{}, fmt.Errorf("failed to start typing: %w", err)
	}
	if err := sleepCtx(ctx, s.typingDelay); err != nil {
		return SendResult{}, err
	}

	if err := s.chatRequest(ctx, "/api/stopTyping", chatID); err != nil {
		return SendResult{}, fmt.Errorf("failed to stop typing: %w", err)
	}
	if err := sleepCtx(ctx, s.stopDelay); err != nil {
		return SendResult{}, err
	}

	err := s.makeRequest(ctx, "/api/sendText", map[string]string{
		"chatId":  chatID,
		"text":    msg.Body,
		"session": s.session,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to send text: %w", err)
	}

	return SendResult{
		MessageID: fmt.Sprintf("waha-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
