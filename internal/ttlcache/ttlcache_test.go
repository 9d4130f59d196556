package ttlcache

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGetRespectsTTL(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		fresh bool
	}{
		{name: "just written", after: 0, fresh: true},
		{name: "one second before ttl", after: 4*time.Minute + 59*time.Second, fresh: true},
		{name: "exactly at ttl", after: 5 * time.Minute, fresh: true},
		{name: "one second past ttl", after: 5*time.Minute + time.Second, fresh: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			c := New[string]("test", WithClock(clk.now))

			c.Put("k", "v")
			clk.advance(tt.after)

			v, ok := c.Get("k")
			assert.Equal(t, tt.fresh, ok)
			if tt.fresh {
				assert.Equal(t, "v", v)
				assert.Equal(t, 1, c.Len())
			} else {
				assert.Empty(t, v)
				assert.Equal(t, 0, c.Len(), "expired entry should be removed on lookup")
			}
		})
	}
}

func TestPutEvictsOldestInsertion(t *testing.T) {
	c := New[int]("test")

	for i := 0; i < DefaultSize+1; i++ {
		c.Put(strconv.Itoa(i), i)
	}

	assert.Equal(t, DefaultSize, c.Len())
	_, ok := c.Get("0")
	assert.False(t, ok, "first insertion should have been evicted")

	v, ok := c.Get(strconv.Itoa(DefaultSize))
	require.True(t, ok)
	assert.Equal(t, DefaultSize, v)
}

func TestReadsDoNotRefreshPosition(t *testing.T) {
	c := New[string]("test", WithSize(2))

	c.Put("a", "1")
	c.Put("b", "2")

	// Reading "a" must not save it from eviction.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", "3")

	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestOverwriteIsFreshInsertion(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string]("test", WithSize(2), WithClock(clk.now))

	c.Put("a", "old")
	c.Put("b", "2")

	clk.advance(4 * time.Minute)
	c.Put("a", "new")

	// "b" is now the oldest insertion.
	c.Put("c", "3")
	_, ok := c.Get("b")
	assert.False(t, ok)

	// And "a" got a new timestamp.
	clk.advance(2 * time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestClear(t *testing.T) {
	c := New[string]("test")
	c.Put("a", "1")
	c.Put("b", "2")

	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
