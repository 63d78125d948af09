package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/core"
)

func newTestStore(t *testing.T, journalSize int) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(client, journalSize)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestStore_PutGetExpire(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "reddit:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "reddit:abc", "rejected", 24*time.Hour))

	val, ok, err := store.Get(ctx, "reddit:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "rejected", val)
	assert.True(t, mr.Exists("dispatch:ledger:reddit:abc"))

	mr.FastForward(25 * time.Hour)

	_, ok, err = store.Get(ctx, "reddit:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetErrorWhenDown(t *testing.T) {
	store, mr := newTestStore(t, 0)
	mr.SetError("ERR store unavailable")

	_, _, err := store.Get(context.Background(), "github:abc")
	assert.Error(t, err)
}

func TestOpen_RequiresAddress(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestOpen_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Open(context.Background(), Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestJournal_CappedNewestFirst(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()
	journal := store.Journal()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, journal.Record(ctx, core.JournalEntry{
			Key:         key,
			Title:       "title " + key,
			DeliveredAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := journal.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Key)
	assert.Equal(t, "b", entries[1].Key)
	assert.Equal(t, now.Add(2*time.Minute), entries[0].DeliveredAt)
}
