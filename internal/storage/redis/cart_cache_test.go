package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func setupTestCache(t *testing.T) (*CartCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return NewCartCache(client), mr
}

func sampleCart(sessionID string) *domain.CartSession {
	return &domain.CartSession{
		SessionID: sessionID,
		Lines: []domain.CartLine{
			{ProductID: "prod-1", Quantity: 2, UnitPriceMinor: 1499, Currency: "USD"},
		},
		Version:   3,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestCartCache_GetSuccess(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	cart := sampleCart("sess-1")
	data, err := json.Marshal(cart)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("sess-1"), string(data)))

	got, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, int64(3), got.Version)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, int64(1499), got.Lines[0].UnitPriceMinor)
}

func TestCartCache_GetMiss(t *testing.T) {
	cache, _ := setupTestCache(t)

	got, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.Nil(t, got)
}

func TestCartCache_GetInvalidJSON(t *testing.T) {
	cache, mr := setupTestCache(t)

	require.NoError(t, mr.Set(cacheKey("sess-bad"), `{"session_id":`))

	_, err := cache.Get(context.Background(), "sess-bad")
	require.ErrorContains(t, err, "unmarshal cached cart")
}

func TestCartCache_SetStoresWithTTL(t *testing.T) {
	cache, mr := setupTestCache(t)

	require.NoError(t, cache.Set(context.Background(), sampleCart("sess-ttl")))

	stored, err := mr.Get(cacheKey("sess-ttl"))
	require.NoError(t, err)

	var cart domain.CartSession
	require.NoError(t, json.Unmarshal([]byte(stored), &cart))
	assert.Equal(t, "sess-ttl", cart.SessionID)

	ttl := mr.TTL(cacheKey("sess-ttl"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.LessOrEqual(t, ttl, 20*time.Minute)
}

func TestCartCache_SetRejectsEmptySession(t *testing.T) {
	cache, _ := setupTestCache(t)

	assert.ErrorIs(t, cache.Set(context.Background(), nil), domain.ErrSessionIDRequired)
	assert.ErrorIs(t, cache.Set(context.Background(), &domain.CartSession{}), domain.ErrSessionIDRequired)
}

func TestCartCache_Delete(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleCart("sess-del")))
	assert.True(t, mr.Exists(cacheKey("sess-del")))

	require.NoError(t, cache.Delete(ctx, "sess-del"))
	assert.False(t, mr.Exists(cacheKey("sess-del")))

	// Удаление отсутствующего ключа не является ошибкой.
	assert.NoError(t, cache.Delete(ctx, "sess-del"))
}
