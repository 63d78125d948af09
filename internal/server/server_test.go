package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/core"
	"dispatch/internal/storage/memstore"
)

type fakeBot struct {
	mu        sync.Mutex
	triggered []string
	running   bool
}

func (b *fakeBot) Trigger(name string) error {
	if name != "github" {
		return fmt.Errorf("%w: %s", core.ErrUnknownPipeline, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggered = append(b.triggered, name)
	return nil
}

func (b *fakeBot) Pipelines() []string { return []string{"github"} }
func (b *fakeBot) IsRunning() bool     { return b.running }

func newTestServer(t *testing.T) (*Server, *fakeBot, core.Journal) {
	t.Helper()

	bot := &fakeBot{running: true}
	journal := memstore.New(memstore.Config{}).Journal()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dispatch_runs_total 1\n"))
	})

	return New(Config{Name: "relay", FeedLink: "https://relay.test/"}, bot, journal, metrics, nil), bot, journal
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s, bot, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	bot.running = false
	rec = do(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Trigger(t *testing.T) {
	s, bot, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/trigger/github")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(s, http.MethodGet, "/trigger/github")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []string{"github", "github"}, bot.triggered)

	rec = do(s, http.MethodPost, "/trigger/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Pipelines(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/pipelines")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pipelines":["github"]}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dispatch_runs_total")
}

func TestServer_Feeds(t *testing.T) {
	s, _, journal := newTestServer(t)

	require.NoError(t, journal.Record(context.Background(), core.JournalEntry{
		Key:         "github:abc",
		Title:       "Fix the widget",
		Link:        "https://github.com/acme/widget/commit/abc",
		Source:      "acme/widget",
		Pipeline:    "github",
		DeliveredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}))

	tests := []struct {
		path        string
		contentType string
	}{
		{"/feed.rss", "application/rss+xml"},
		{"/feed.atom", "application/atom+xml"},
		{"/feed.json", "application/feed+json"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(s, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), tt.contentType))
			assert.Contains(t, rec.Body.String(), "Fix the widget")
		})
	}
}

func TestServer_FeedIsCached(t *testing.T) {
	s, _, journal := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, journal.Record(ctx, core.JournalEntry{Key: "a", Title: "first", DeliveredAt: time.Now()}))
	rec := do(s, http.MethodGet, "/feed.rss")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, journal.Record(ctx, core.JournalEntry{Key: "b", Title: "second", DeliveredAt: time.Now()}))
	rec = do(s, http.MethodGet, "/feed.rss")
	assert.NotContains(t, rec.Body.String(), "second")
}
