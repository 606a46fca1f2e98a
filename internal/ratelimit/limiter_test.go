package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/toggled/internal/clock"
)

func newTestLimiter(limit int, interval time.Duration) (*Limiter, *clock.MockClock) {
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewLimiter(limit, interval, clk), clk
}

func TestLimiter_Allow_Basic(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("test-key"), "request %d", i+1)
	}
	assert.False(t, l.Allow("test-key"), "4th request should be denied")
}

func TestLimiter_Allow_DifferentKeys(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		assert.True(t, l.Allow("key1"))
		assert.True(t, l.Allow("key2"))
	}
	assert.False(t, l.Allow("key1"))
	assert.False(t, l.Allow("key2"))
}

func TestLimiter_Allow_Refill(t *testing.T) {
	l, clk := newTestLimiter(2, time.Minute)

	l.Allow("refill-key")
	l.Allow("refill-key")
	assert.False(t, l.Allow("refill-key"))
	assert.Equal(t, time.Minute, l.RetryAfter("refill-key"))

	clk.Advance(40 * time.Second)
	assert.False(t, l.Allow("refill-key"))
	assert.Equal(t, 20*time.Second, l.RetryAfter("refill-key"))

	clk.Advance(20 * time.Second)
	assert.True(t, l.Allow("refill-key"))
}

func TestLimiter_AllowN(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)

	assert.True(t, l.AllowN("k", 3))
	assert.False(t, l.AllowN("k", 3), "only 2 left")
	assert.True(t, l.AllowN("k", 2))
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Allow("reset-key")
	assert.False(t, l.Allow("reset-key"))

	l.Reset("reset-key")
	assert.True(t, l.Allow("reset-key"))
	assert.Equal(t, time.Duration(0), l.RetryAfter("unknown"))
}

func TestLimiter_CleanupExpired(t *testing.T) {
	l, clk := newTestLimiter(10, time.Minute)

	l.Allow("key1")
	clk.Advance(30 * time.Minute)
	l.Allow("key2")
	assert.Equal(t, 2, l.Len())

	assert.Equal(t, 0, l.CleanupExpired(time.Hour))
	assert.Equal(t, 1, l.CleanupExpired(10*time.Minute))
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(1000, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Allow("concurrent-key")
			}
		}()
	}
	wg.Wait()

	assert.False(t, l.Allow("concurrent-key"))
}
