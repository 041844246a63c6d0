// Package gateway is the chat-api client the bot uses to reply: text, files,
// voice notes, locations and group creation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wabot/internal/config"
	"wabot/internal/domain"
	"wabot/internal/metrics"
)

// maxResponseBytes bounds how much of a gateway response is read back.
const maxResponseBytes = 1 << 20

var _ domain.Gateway = (*Client)(nil)

// APIError is returned when the gateway answers with a non-2xx status.
type APIError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s: HTTP %d: %s", e.Method, e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	APIBase string // instance URL, e.g. https://eu115.chat-api.com/instance12345/
	Token   string
	Timeout time.Duration
	Media   config.MediaConfig
	Logger  *slog.Logger
}

// Client talks to one gateway instance. It is immutable after NewClient and
// safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	media  config.MediaConfig
	client *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base %q is not an absolute URL", cfg.APIBase)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		media:  cfg.Media,
		client: newHTTPClient(cfg.Timeout),
		logger: cfg.Logger,
	}, nil
}

// FromConfig builds a Client from the gateway section of the app config.
func FromConfig(cfg config.GatewayConfig, logger *slog.Logger) (*Client, error) {
	return NewClient(Config{
		APIBase: cfg.APIBase,
		Token:   cfg.Token,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Media:   cfg.Media,
		Logger:  logger,
	})
}

func (c *Client) SendText(ctx context.Context, chatID, text string) (string, error) {
	return c.call(ctx, "sendMessage", map[string]any{
		"chatId": chatID,
		"body":   text,
	})
}

// SendFile sends the catalog file for kind. Kinds missing from the catalog
// get a text reply instead.
func (c *Client) SendFile(ctx context.Context, chatID, kind string) (string, error) {
	kind = strings.ToLower(kind)
	link, ok := c.media.Files[kind]
	if !ok || link == "" {
		return c.SendText(ctx, chatID, fmt.Sprintf("No file with the %q format is available", kind))
	}
	return c.call(ctx, "sendFile", map[string]any{
		"chatId":   chatID,
		"body":     link,
		"filename": "file." + kind,
	})
}

func (c *Client) SendVoice(ctx context.Context, chatID string) (string, error) {
	return c.call(ctx, "sendPTT", map[string]any{
		"chatId": chatID,
		"audio":  c.media.Voice,
	})
}

func (c *Client) SendLocation(ctx context.Context, chatID string) (string, error) {
	loc := c.media.Location
	return c.call(ctx, "sendLocation", map[string]any{
		"chatId":  chatID,
		"lat":     loc.Lat,
		"lng":     loc.Lng,
		"address": loc.Address,
	})
}

// CreateGroup creates a group with owner as its only other member.
func (c *Client) CreateGroup(ctx context.Context, owner string) (string, error) {
	phone := strings.TrimSuffix(owner, "@c.us")
	return c.call(ctx, "group", map[string]any{
		"groupName":   c.media.Group.Name,
		"phones":      []string{phone},
		"messageText": c.media.Group.Greeting,
	})
}

func (c *Client) endpoint(method string) string {
	u := c.base.JoinPath(method)
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Status returns the instance status reported by the gateway.
func (c *Client) Status(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("status"), nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	return c.do(req, "status")
}

// call POSTs payload to the gateway method and returns the response body.
func (c *Client) call(ctx context.Context, method string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

func (c *Client) do(req *http.Request, method string) (string, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayErrors.Inc()
		return "", fmt.Errorf("gateway %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.GatewayErrors.Inc()
		return "", fmt.Errorf("read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.GatewayErrors.Inc()
		return "", &APIError{Method: method, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Debug("gateway call done", "method", method, "status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds())
	return string(respBody), nil
}
