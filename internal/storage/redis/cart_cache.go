package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultCartTTL = 15 * time.Minute

// CartCache — read-through кеш корзин поверх Redis. Источником истины
// остаётся PostgreSQL: любая запись корзины инвалидирует ключ, а TTL с
// джиттером защищает от одновременного истечения множества ключей.
type CartCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewCartCache создаёт кеш корзин поверх готового Redis-клиента.
func NewCartCache(client *redis.Client) *CartCache {
	return &CartCache{
		client:  client,
		baseTTL: defaultCartTTL,
	}
}

func (c *CartCache) Get(ctx context.Context, sessionID string) (*domain.CartSession, error) {
	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.CartSession
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cached cart: %w", err)
	}

	return &cart, nil
}

func (c *CartCache) Set(ctx context.Context, cart *domain.CartSession) error {
	if cart == nil || cart.SessionID == "" {
		return domain.ErrSessionIDRequired
	}

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart for cache: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := c.client.Set(ctx, cacheKey(cart.SessionID), data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}

	return nil
}

func (c *CartCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}

	return nil
}

func cacheKey(sessionID string) string {
	return "cart:" + sessionID
}

var _ domain.CartCache = (*CartCache)(nil)
