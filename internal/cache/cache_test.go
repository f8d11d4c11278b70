package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/models"
)

func TestKey(t *testing.T) {
	a := Key("gpt-4.1", "data:image/png;base64,AAAA")
	b := Key("gpt-4.1", "data:image/png;base64,AAAB")
	c := Key("mock", "data:image/png;base64,AAAA")

	assert.True(t, strings.HasPrefix(a, "prediction:gpt-4.1:"))
	assert.Len(t, strings.TrimPrefix(a, "prediction:gpt-4.1:"), 64)
	assert.Equal(t, a, Key("gpt-4.1", "data:image/png;base64,AAAA"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNew_DisabledWithoutURL(t *testing.T) {
	c := New(&config.Config{}, zap.NewNop())

	_, isNoop := c.(Noop)
	assert.True(t, isNoop)
}

func TestNew_InvalidURLFallsBackToNoop(t *testing.T) {
	c := New(&config.Config{RedisURL: "not a url"}, zap.NewNop())

	_, isNoop := c.(Noop)
	assert.True(t, isNoop)
}

func TestRedisCache_UnreachableServerIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := newRedisCache(client, 0, zap.NewNop())
	defer c.Close()

	assert.Equal(t, defaultTTL, c.ttl)

	result, found := c.Get(context.Background(), "mock", "https://example.com/a.png")
	assert.False(t, found)
	assert.Nil(t, result)

	err := c.Set(context.Background(), "mock", "https://example.com/a.png", models.EmptyAnnotationResult())
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}

	assert.NoError(t, c.Set(context.Background(), "m", "ref", models.EmptyAnnotationResult()))
	result, found := c.Get(context.Background(), "m", "ref")
	assert.False(t, found)
	assert.Nil(t, result)
	assert.NoError(t, c.Close())
}
