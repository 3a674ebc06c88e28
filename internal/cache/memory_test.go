package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podlog/internal/config"
	"podlog/internal/testutil"
)

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(testutil.FixedClock(), 0)

	_, ok, err := c.Get(ctx, "pod:alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "pod:alice", []byte(`{"name":"alice"}`), time.Minute))
	got, ok, err := c.Get(ctx, "pod:alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"name":"alice"}`, string(got))

	// Returned values are copies.
	got[0] = 'X'
	again, _, _ := c.Get(ctx, "pod:alice")
	assert.Equal(t, `{"name":"alice"}`, string(again))
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	c := NewMemoryCache(clock, 0)

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "forever", []byte("2"), 0))

	clock.Advance(time.Second)
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "entry should expire at its deadline")
	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(testutil.FixedClock(), 2)

	require.NoError(t, c.Set(ctx, "a", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("b"), 0))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", []byte("c"), 0))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(testutil.FixedClock(), 0)

	keys := []string{
		"records:s1:abc",
		"records:s1:def",
		"records:s1:routes",
		"records:s10:abc",
		"record:s1:name:about",
		"stream:alice:blog/posts",
	}
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
	}

	require.NoError(t, c.DeleteByPattern(ctx, "records:s1:*"))

	for _, k := range keys {
		_, ok, _ := c.Get(ctx, k)
		switch k {
		case "records:s1:abc", "records:s1:def", "records:s1:routes":
			assert.False(t, ok, "%s should be removed", k)
		default:
			assert.True(t, ok, "%s should survive", k)
		}
	}
}

func TestMemoryCache_FlushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(testutil.FixedClock(), 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}

	require.NoError(t, c.Flush(ctx))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"records:s1:*", "records:s1:abc", true},
		{"records:s1:*", "records:s1:", true},
		{"records:s1:*", "records:s10:abc", false},
		{"stream:alice:*", "stream:alice:blog/posts/2024", true},
		{"*:alice:*", "stream:alice:blog", true},
		{"children:*:blog", "children:alice:blog", true},
		{"children:*:blog", "children:alice:blogroll", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.key))
		})
	}
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	var c NopCache
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewCacheFromConfig(t *testing.T) {
	clock := testutil.FixedClock()

	c, err := NewCacheFromConfig(config.CacheConfig{Type: "memory", MaxEntries: 10}, clock)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = NewCacheFromConfig(config.CacheConfig{Type: "none"}, clock)
	require.NoError(t, err)
	assert.IsType(t, NopCache{}, c)

	_, err = NewCacheFromConfig(config.CacheConfig{Type: "redis"}, clock)
	assert.Error(t, err)
}
