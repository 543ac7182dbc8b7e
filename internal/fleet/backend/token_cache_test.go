package backend

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryTokenCache(t *testing.T) {
	cache := NewMemoryTokenCache()
	ctx := context.Background()

	_, ok := cache.Get(ctx, "srv-1")
	assert.False(t, ok)

	token := Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	cache.Set(ctx, "srv-1", token)

	got, ok := cache.Get(ctx, "srv-1")
	assert.True(t, ok)
	assert.Equal(t, "tok", got.Value)

	cache.Delete(ctx, "srv-1")
	_, ok = cache.Get(ctx, "srv-1")
	assert.False(t, ok)
}

func TestMemoryTokenCacheConcurrentAccess(t *testing.T) {
	cache := NewMemoryTokenCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cache.Set(ctx, fmt.Sprintf("srv-%d", i%5), Token{
				Value:     fmt.Sprintf("tok-%d", i),
				ExpiresAt: time.Now().Add(time.Hour),
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			cache.Get(ctx, fmt.Sprintf("srv-%d", i%5))
		}(i)
	}
	wg.Wait()

	// Last writer wins, any surviving token is valid
	for i := 0; i < 5; i++ {
		token, ok := cache.Get(ctx, fmt.Sprintf("srv-%d", i))
		if ok {
			assert.NotEmpty(t, token.Value)
		}
	}
}

func TestTokenExpiresWithin(t *testing.T) {
	fresh := Token{ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, fresh.ExpiresWithin(5*time.Minute))

	nearExpiry := Token{ExpiresAt: time.Now().Add(2 * time.Minute)}
	assert.True(t, nearExpiry.ExpiresWithin(5*time.Minute))

	expired := Token{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, expired.ExpiresWithin(0))
}
