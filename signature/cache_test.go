package signature

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingMetrics struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (m *countingMetrics) RecordCacheHit(string) {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordCacheMiss(string) {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func TestCache_HitAndMiss(t *testing.T) {
	c := NewCache(4, zaptest.NewLogger(t))
	m := &countingMetrics{}
	c.SetMetrics(m)

	first, err := c.Get("q -> a")
	require.NoError(t, err)
	second, err := c.Get("q -> a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 1, m.misses)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ErrorsNotCached(t *testing.T) {
	c := NewCache(4, nil)
	_, err := c.Get("q ->")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2, nil)
	a, _ := c.Get("a -> x")
	_, _ = c.Get("b -> x")
	_, _ = c.Get("a -> x") // a 变为最近使用
	_, _ = c.Get("c -> x") // 淘汰 b

	assert.Equal(t, 2, c.Len())
	again, err := c.Get("a -> x")
	require.NoError(t, err)
	assert.Same(t, a, again)

	assert.False(t, c.entries.Contains("b -> x"))
}

func TestCache_ConcurrentGet(t *testing.T) {
	c := NewCache(8, nil)
	var wg sync.WaitGroup
	results := make([]*Signature, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig, err := c.Get(fmt.Sprintf("q%d -> a", i%4))
			if err == nil {
				results[i] = sig
			}
		}(i)
	}
	wg.Wait()

	for i, sig := range results {
		require.NotNil(t, sig)
		assert.Equal(t, fmt.Sprintf("q%d -> a", i%4), sig.String())
	}
	assert.Equal(t, 4, c.Len())
}

func TestDefaultCache(t *testing.T) {
	assert.Same(t, DefaultCache(), DefaultCache())
}
