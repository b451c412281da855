package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, int](clk.Now)

	c.Set("token", 1, time.Minute)
	c.Set("forever", 2, 0)

	v, ok := c.Get("token")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(time.Minute)
	_, ok = c.Get("token")
	assert.False(t, ok)

	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestNilAndNoopCaches(t *testing.T) {
	var c *TTLCache[string, int]
	c.Set("a", 1, time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok)

	var noop Cache[string, int] = NoopCache[string, int]{}
	noop.Set("a", 1, time.Second)
	_, ok = noop.Get("a")
	assert.False(t, ok)
}
