package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_PostsEmbed(t *testing.T) {
	var got discordgo.WebhookParams
	var userAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		userAgent = r.Header.Get("User-Agent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook, err := NewWebhook(Config{WebhookURL: srv.URL, Username: "relay"}, nil)
	require.NoError(t, err)

	resp, err := hook.Post(context.Background(), &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{Title: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, resp.HasRetryAfter)

	assert.Equal(t, "relay", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "hello", got.Embeds[0].Title)
	assert.Equal(t, defaultUserAgent, userAgent)
}

func TestWebhook_RetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		body     string
		wantWait time.Duration
		wantHint bool
	}{
		{name: "header seconds", header: "5", wantWait: 5 * time.Second, wantHint: true},
		{name: "header fractional", header: "0.5", wantWait: 500 * time.Millisecond, wantHint: true},
		{name: "json body", body: `{"message":"rate limited","retry_after":1.25}`, wantWait: 1250 * time.Millisecond, wantHint: true},
		{name: "garbage header", header: "soon", wantHint: false},
		{name: "no hint", wantHint: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			hook, err := NewWebhook(Config{WebhookURL: srv.URL}, nil)
			require.NoError(t, err)

			resp, err := hook.Post(context.Background(), &discordgo.WebhookParams{})
			require.NoError(t, err)
			assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
			assert.Equal(t, tt.wantHint, resp.HasRetryAfter)
			assert.Equal(t, tt.wantWait, resp.RetryAfter)
		})
	}
}

func TestWebhook_StatusPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	hook, err := NewWebhook(Config{WebhookURL: srv.URL}, nil)
	require.NoError(t, err)

	resp, err := hook.Post(context.Background(), &discordgo.WebhookParams{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	hook, err := NewWebhook(Config{WebhookURL: url}, nil)
	require.NoError(t, err)

	_, err = hook.Post(context.Background(), &discordgo.WebhookParams{})
	assert.Error(t, err)
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(Config{}, nil)
	assert.Error(t, err)
}

func TestWebhook_TruncatedBodyGivesNoHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		defer conn.Close()

		// The declared length is never reached, so the client read fails.
		buf.WriteString("HTTP/1.1 429 Too Many Requests\r\n" +
			"Content-Type: application/json\r\n" +
			"Content-Length: 100\r\n\r\n" +
			`{"retry_after":2}`)
		buf.Flush()
	}))
	defer srv.Close()

	hook, err := NewWebhook(Config{WebhookURL: srv.URL}, nil)
	require.NoError(t, err)

	resp, err := hook.Post(context.Background(), &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{Title: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, resp.HasRetryAfter)
}
