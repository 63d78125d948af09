// Package sources fetches items from the upstream services a pipeline
// relays: GitHub commits, Reddit listings and provider status feeds.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dispatch/internal/core"
)

const (
	DefaultUserAgent = "dispatch/1.0"
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 10 << 20
)

// Options are shared by every fetcher.
type Options struct {
	Client    *http.Client
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: defaultTimeout}
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// StatusError reports a non-2xx response from an upstream.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

func get(ctx context.Context, opts Options, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func getJSON(ctx context.Context, opts Options, url string, headers map[string]string, v any) error {
	body, err := get(ctx, opts, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal response from %s: %w", url, err)
	}
	return nil
}

func settingString(src core.SourceDescriptor, key, def string) string {
	if v, ok := src.Settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

func settingInt(src core.SourceDescriptor, key string, def int) int {
	switch v := src.Settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
