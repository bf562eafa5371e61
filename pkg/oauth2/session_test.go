package oauth2

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id string, ttl time.Duration) *AuthSession {
	now := time.Now()
	return &AuthSession{
		SessionID: id,
		Provider:  "line",
		UserID:    "U-" + id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestInMemorySessionStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()

	created, err := store.Create(ctx, newSession("a", time.Hour))
	require.NoError(t, err)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	// Returned records are copies.
	got.DisplayName = "changed"
	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, again.DisplayName)
}

func TestInMemorySessionStore_ExpiredGetEvicts(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()

	_, err := store.Create(ctx, newSession("live", time.Hour))
	require.NoError(t, err)
	_, err = store.Create(ctx, newSession("old", -time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, store.Len())
}

func TestInMemorySessionStore_ExpiresExactlyNow(t *testing.T) {
	s := newSession("x", 0)
	assert.True(t, s.Expired(s.ExpiresAt))
	assert.False(t, s.Expired(s.ExpiresAt.Add(-time.Nanosecond)))
}

func TestInMemorySessionStore_DeleteMissing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	_, err := store.Create(ctx, newSession("a", time.Hour))
	require.NoError(t, err)

	assert.NoError(t, store.Delete(ctx, "nope"))
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestInMemorySessionStore_LaterWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()

	first := newSession("a", time.Hour)
	first.DisplayName = "first"
	second := newSession("a", time.Hour)
	second.DisplayName = "second"

	_, err := store.Create(ctx, first)
	require.NoError(t, err)
	_, err = store.Create(ctx, second)
	require.NoError(t, err)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", got.DisplayName)
	assert.Equal(t, 1, store.Len())
}

func TestInMemorySessionStore_FindByProviderUser(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()

	older := newSession("older", time.Hour)
	older.UserID = "U1"
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := newSession("newer", time.Hour)
	newer.UserID = "U1"
	expired := newSession("expired", -time.Second)
	expired.UserID = "U1"
	expired.CreatedAt = time.Now().Add(time.Minute)

	for _, s := range []*AuthSession{older, newer, expired} {
		_, err := store.Create(ctx, s)
		require.NoError(t, err)
	}

	got, err := store.FindByProviderUser(ctx, "line", "U1")
	require.NoError(t, err)
	assert.Equal(t, "newer", got.SessionID)

	_, err = store.FindByProviderUser(ctx, "google", "U1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	live, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestInMemorySessionStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			_, _ = store.Create(ctx, newSession(id, time.Hour))
			_, _ = store.Get(ctx, id)
			if i%2 == 0 {
				_ = store.Delete(ctx, id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, store.Len())
}

func TestAuthSession_MetadataMap(t *testing.T) {
	s := &AuthSession{Metadata: `{"statusMessage":"hi"}`}
	assert.Equal(t, map[string]any{"statusMessage": "hi"}, s.MetadataMap())

	s.Metadata = "not json"
	assert.Empty(t, s.MetadataMap())

	s.Metadata = ""
	assert.NotNil(t, s.MetadataMap())
}
