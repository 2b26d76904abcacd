// Package telegram provides a minimal client for the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Bot API operations used by the bot.
type Client interface {
	// SendMessage posts text to a chat and returns the new message ID.
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	SetWebhook(ctx context.Context, cfg WebhookConfig) error
	SetMyCommands(ctx context.Context, cmds []BotCommand) error
}

// APIError is a request the Bot API rejected.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed (status %d): %s", e.Method, e.StatusCode, e.Description)
}

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Option configures the Telegram client.
type Option func(*httpClient)

// WithBaseURL sets a custom API URL (for testing or a local Bot API server).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRate limits outbound calls to perSec requests per second.
func WithRate(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Bot API client for token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(30, 30),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *httpClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", map[string]any{"chat_id": chatID, "text": text}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *httpClient) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{"chat_id": chatID, "message_id": messageID, "text": text}, nil)
}

func (c *httpClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}

func (c *httpClient) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

func (c *httpClient) SetWebhook(ctx context.Context, cfg WebhookConfig) error {
	return c.call(ctx, "setWebhook", cfg, nil)
}

func (c *httpClient) SetMyCommands(ctx context.Context, cmds []BotCommand) error {
	return c.call(ctx, "setMyCommands", map[string]any{"commands": cmds}, nil)
}

// call POSTs payload to method and decodes the result into out when non-nil.
func (c *httpClient) call(ctx context.Context, method string, payload, out any) error {
	if c.token == "" {
		return eris.Errorf("telegram: %s: bot token not set", method)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "telegram: %s: rate limit wait", method)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "telegram: %s: marshal request", method)
	}

	reqURL := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrapf(err, "telegram: %s: create request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL contains the token; report only the method.
		return eris.Wrapf(redact(err, c.token), "telegram: %s: send request", method)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrapf(err, "telegram: %s: read response", method)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(respBody))}
	}
	if !env.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: env.Description}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return eris.Wrapf(err, "telegram: %s: unmarshal result", method)
		}
	}
	return nil
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return eris.New(strings.ReplaceAll(msg, token, "<token>"))
}
