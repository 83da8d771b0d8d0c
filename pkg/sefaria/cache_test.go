package sefaria

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyParamOrder(t *testing.T) {
	a := url.Values{}
	a.Set("context", "0")
	a.Set("commentary", "0")

	b := url.Values{}
	b.Set("commentary", "0")
	b.Set("context", "0")

	assert.Equal(t, CacheKey("/texts/Genesis_1", a), CacheKey("/texts/Genesis_1", b))
}

func TestCacheKeyNoParams(t *testing.T) {
	assert.Equal(t, "/texts/Genesis_1", CacheKey("/texts/Genesis_1", nil))
	assert.Equal(t, "/texts/Genesis_1", CacheKey("/texts/Genesis_1", url.Values{}))
}

func TestCacheHit(t *testing.T) {
	cache := NewCache(10, time.Hour)
	cache.Put("k", &TextSegment{Ref: "Genesis 1:1"})

	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "Genesis 1:1", got.(*TextSegment).Ref)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(10, time.Hour)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Put("k", &TextSegment{Ref: "a"})

	now = now.Add(59 * time.Minute)
	_, ok := cache.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("k")
	assert.False(t, ok)

	// Expired entry stays resident until overwritten.
	assert.Equal(t, 1, cache.Len())

	cache.Put("k", &TextSegment{Ref: "b"})
	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "b", got.(*TextSegment).Ref)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheLRUEviction(t *testing.T) {
	cache := NewCache(3, time.Hour)
	for i := 0; i < 3; i++ {
		cache.Put(fmt.Sprintf("k%d", i), &TextSegment{Ref: fmt.Sprintf("r%d", i)})
	}

	// Touch k0 so k1 becomes least recently used.
	_, ok := cache.Get("k0")
	require.True(t, ok)

	cache.Put("k3", &TextSegment{Ref: "r3"})

	_, ok = cache.Get("k1")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok = cache.Get(k)
		assert.True(t, ok, "entry %s should survive", k)
	}
	assert.Equal(t, 3, cache.Len())
}

func TestCacheOverwriteRefreshesTTL(t *testing.T) {
	cache := NewCache(10, time.Hour)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Put("k", &TextSegment{Ref: "a"})
	now = now.Add(50 * time.Minute)
	cache.Put("k", &TextSegment{Ref: "b"})
	now = now.Add(50 * time.Minute)

	// 100 minutes after first write, 50 after the refresh: still fresh.
	_, ok := cache.Get("k")
	assert.True(t, ok)
}

func TestCacheExpiredEntryHoldsSlot(t *testing.T) {
	cache := NewCache(2, time.Hour)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Put("old", &TextSegment{Ref: "old"})
	now = now.Add(2 * time.Hour)

	cache.Put("a", &TextSegment{Ref: "a"})
	cache.Put("b", &TextSegment{Ref: "b"})

	// The expired entry aged out of the LRU order like any other.
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("b")
	assert.True(t, ok)
}
