package backend

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token is a cached bearer token with its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ExpiresWithin reports whether the token expires before now+margin.
func (t Token) ExpiresWithin(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// TokenCache stores bearer tokens keyed by server. Implementations
// must be safe for concurrent use; a stale-token race between two
// refreshers is tolerated, last write wins.
type TokenCache interface {
	Get(ctx context.Context, serverID string) (Token, bool)
	Set(ctx context.Context, serverID string, token Token)
	Delete(ctx context.Context, serverID string)
}

type memoryTokenCache struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryTokenCache returns an in-process token cache.
func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{tokens: make(map[string]Token)}
}

func (c *memoryTokenCache) Get(_ context.Context, serverID string) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[serverID]
	return token, ok
}

func (c *memoryTokenCache) Set(_ context.Context, serverID string, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[serverID] = token
}

func (c *memoryTokenCache) Delete(_ context.Context, serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, serverID)
}

type redisTokenCache struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenCache returns a token cache backed by Redis so multiple
// instances share panel tokens. Entries carry a TTL matching the token
// expiry; a read close to expiry is treated as a miss by the caller.
func NewRedisTokenCache(client *redis.Client) TokenCache {
	return &redisTokenCache{client: client, prefix: "fleet:token:"}
}

func (c *redisTokenCache) Get(ctx context.Context, serverID string) (Token, bool) {
	key := c.prefix + serverID
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return Token{}, false
	}
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return Token{}, false
	}
	return Token{Value: value, ExpiresAt: time.Now().Add(ttl)}, true
}

func (c *redisTokenCache) Set(ctx context.Context, serverID string, token Token) {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return
	}
	c.client.Set(ctx, c.prefix+serverID, token.Value, ttl)
}

func (c *redisTokenCache) Delete(ctx context.Context, serverID string) {
	c.client.Del(ctx, c.prefix+serverID)
}
