package messaging

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

const defaultAPIBase = "https://api.telegram.org"

var errMissingBotToken = errors.New("messaging: bot token is not configured")

// Telegram implements Gateway over the Telegram Bot HTTP API.
type Telegram struct {
	token  string
	base   string
	client *http.Client
}

// TelegramOption configures the Telegram gateway.
type TelegramOption func(*Telegram)

// WithAPIBase overrides the Bot API base URL. Useful for tests.
func WithAPIBase(base string) TelegramOption {
	return func(t *Telegram) {
		if base != "" {
			t.base = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) {
		if c != nil {
			t.client = c
		}
	}
}

// NewTelegram constructs a Telegram gateway for the given bot token.
func NewTelegram(token string, opts ...TelegramOption) (*Telegram, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errMissingBotToken
	}
	t := &Telegram{
		token:  token,
		base:   defaultAPIBase,
		client: &http.Client{Timeout: 35 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// apiError is a rejection reported by the Bot API itself. Transport and
// decode failures stay plain errors: the message may still have gone
// out, so they must not trigger a second send.
type apiError struct {
	method      string
	description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram %s: %s", e.method, e.description)
}

// Send delivers a message, retrying once without formatting when the API
// rejects the markdown payload.
func (t *Telegram) Send(ctx context.Context, channelID int64, text string, markdown bool) (bool, error) {
	req := sendMessageRequest{ChatID: channelID, Text: text}
	if markdown {
		req.ParseMode = "Markdown"
	}
	if err := t.call(ctx, "sendMessage", req, nil); err != nil {
		var rejected *apiError
		if !markdown || !errors.As(err, &rejected) {
			return false, err
		}
		// Markdown entities can fail to parse; plain text is better than nothing.
		req.ParseMode = ""
		if err := t.call(ctx, "sendMessage", req, nil); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Telegram) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !decoded.OK {
		return &apiError{method: method, description: decoded.Description}
	}
	if result != nil {
		return json.Unmarshal(decoded.Result, result)
	}
	return nil
}
