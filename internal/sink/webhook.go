// Package sink posts embeds to a chat webhook.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"dispatch/internal/core"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "dispatch/1.0"
	maxBodyBytes     = 64 << 10
)

type Config struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	// RatePerSecond throttles outgoing posts. Zero disables throttling.
	RatePerSecond float64
	Timeout       time.Duration
	UserAgent     string
}

type Webhook struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhook(config Config, client *http.Client) (*Webhook, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("sink: webhook_url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}

	return &Webhook{
		config:  config,
		client:  client,
		limiter: limiter,
	}, nil
}

// Post sends payload once. Non-2xx responses are not errors; only a
// failure to reach the sink is.
func (w *Webhook) Post(ctx context.Context, payload *discordgo.WebhookParams) (*core.SinkResponse, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := *payload
	if params.Username == "" {
		params.Username = w.config.Username
	}
	if params.AvatarURL == "" {
		params.AvatarURL = w.config.AvatarURL
	}

	body, err := json.Marshal(&params)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.config.UserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// A truncated body cannot be trusted for a wait hint.
		slog.Debug("Failed to read webhook response body", "status", resp.StatusCode, "error", err)
		respBody = nil
	}

	result := &core.SinkResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		result.RetryAfter, result.HasRetryAfter = retryAfter(resp.Header, respBody)
	}

	return result, nil
}

// retryAfter reads the wait hint in seconds from the Retry-After header,
// falling back to the retry_after field of a JSON body.
func retryAfter(header http.Header, body []byte) (time.Duration, bool) {
	if d, ok := parseSeconds(header.Get("Retry-After")); ok {
		return d, true
	}

	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter != nil && *payload.RetryAfter >= 0 {
		return time.Duration(*payload.RetryAfter * float64(time.Second)), true
	}

	return 0, false
}

func parseSeconds(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
