// Package telegram is the thin Bot API client used by the dispatcher.
//
// It does one thing: deliver an HTML message to a chat, and classify the
// failure precisely enough for the dispatcher's retry policy — transient
// faults are retried, rate limits pause only the affected bot, permanent
// rejections drop the message.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultAPIBase is the production Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// ErrorKind drives the dispatcher's handling of a failed send.
type ErrorKind int

const (
	// Transient covers transport faults, timeouts and 5xx responses.
	Transient ErrorKind = iota
	// RateLimited is a 429: back off this bot for RetryAfter.
	RateLimited
	// Permanent is any other API rejection (bad chat id, malformed
	// HTML). Retrying cannot help.
	Permanent
)

// SendError is a classified delivery failure.
type SendError struct {
	Kind        ErrorKind
	StatusCode  int
	RetryAfter  time.Duration // only set for RateLimited
	Description string
}

func (e *SendError) Error() string {
	switch e.Kind {
	case RateLimited:
		return fmt.Sprintf("telegram rate limited, retry after %s", e.RetryAfter)
	case Transient:
		return fmt.Sprintf("telegram transient failure (status %d): %s", e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("telegram rejected message (status %d): %s", e.StatusCode, e.Description)
	}
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Bot is one Bot API token's client.
type Bot struct {
	client *resty.Client
	name   string
	logger *slog.Logger
}

// NewBot creates a client for one bot token. apiBase is the API host
// (DefaultAPIBase in production, an httptest server in tests); name
// identifies the bot in logs.
func NewBot(apiBase, token, name string, logger *slog.Logger) *Bot {
	client := resty.New().
		SetBaseURL(apiBase + "/bot" + token).
		SetTimeout(5 * time.Second)

	return &Bot{
		client: client,
		name:   name,
		logger: logger.With("component", "telegram", "bot", name),
	}
}

// Name identifies this bot in logs and dispatcher state.
func (b *Bot) Name() string { return b.name }

// SendMessage delivers an HTML-formatted message to the chat. A non-nil
// error is always a *SendError.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	var body apiResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":                  strconv.FormatInt(chatID, 10),
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": "true",
		}).
		SetResult(&body).
		SetError(&body).
		Post("/sendMessage")
	if err != nil {
		return &SendError{Kind: Transient, Description: err.Error()}
	}

	if body.OK {
		return nil
	}

	status := resp.StatusCode()
	switch {
	case status == 429:
		retryAfter := time.Duration(body.Parameters.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return &SendError{
			Kind:        RateLimited,
			StatusCode:  status,
			RetryAfter:  retryAfter,
			Description: body.Description,
		}
	case status >= 500:
		return &SendError{Kind: Transient, StatusCode: status, Description: body.Description}
	default:
		return &SendError{Kind: Permanent, StatusCode: status, Description: body.Description}
	}
}
