package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/storage/memstore"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestLedger() (*Ledger, *clock) {
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New(memstore.Config{Now: c.Now})
	return New(store, Config{}), c
}

func TestLedger_DeliveredLastsThirtyDays(t *testing.T) {
	l, c := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.MarkDelivered(ctx, "github:abc"))

	c.now = c.now.Add(29 * 24 * time.Hour)
	has, err := l.HasEntry(ctx, "github:abc")
	require.NoError(t, err)
	assert.True(t, has)

	c.now = c.now.Add(2 * 24 * time.Hour)
	has, err = l.HasEntry(ctx, "github:abc")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLedger_RejectedLastsOneDay(t *testing.T) {
	l, c := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.MarkRejected(ctx, "reddit:x"))

	status, ok, err := l.Lookup(ctx, "reddit:x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, status)

	c.now = c.now.Add(DefaultRejectedTTL)
	_, ok, err = l.Lookup(ctx, "reddit:x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_DeliveredOverridesRejected(t *testing.T) {
	l, c := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.MarkRejected(ctx, "k"))
	require.NoError(t, l.MarkDelivered(ctx, "k"))

	c.now = c.now.Add(48 * time.Hour)
	status, ok, err := l.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusDelivered, status)
}

func TestLedger_HasEntries(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	keys := make([]string, 0, 20)
	for i := range 20 {
		key := fmt.Sprintf("github:%d", i)
		keys = append(keys, key)
		if i%2 == 0 {
			require.NoError(t, l.MarkDelivered(ctx, key))
		}
	}

	present, err := l.HasEntries(ctx, keys)
	require.NoError(t, err)
	require.Len(t, present, 20)
	assert.True(t, present["github:0"])
	assert.False(t, present["github:1"])

	empty, err := l.HasEntries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

type brokenKV struct{ *memstore.Store }

func (brokenKV) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("timeout")
}

func TestLedger_HasEntriesPropagatesError(t *testing.T) {
	l := New(brokenKV{memstore.New(memstore.Config{})}, Config{})

	_, err := l.HasEntries(context.Background(), []string{"a", "b", "c"})
	assert.Error(t, err)
}

func TestLedger_FetchState(t *testing.T) {
	l, c := newTestLedger()
	ctx := context.Background()

	_, ok, err := l.LastFetched(ctx, "github", "acme/widget")
	require.NoError(t, err)
	assert.False(t, ok)

	at := c.now.Add(time.Minute)
	require.NoError(t, l.MarkFetched(ctx, "github", "acme/widget", at))

	got, ok, err := l.LastFetched(ctx, "github", "acme/widget")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	_, ok, err = l.LastFetched(ctx, "reddit", "acme/widget")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_UnreadableFetchStateIsDue(t *testing.T) {
	store := memstore.New(memstore.Config{})
	l := New(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, fetchKey("github", "repo"), "yesterday", time.Hour))

	_, ok, err := l.LastFetched(ctx, "github", "repo")
	require.NoError(t, err)
	assert.False(t, ok)
}
