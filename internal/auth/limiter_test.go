package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginLimiterSweepsIdleBucketsOncePerWindow(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := start
	l := newLoginLimiter(2)
	l.now = func() time.Time { return clock }
	l.lastSweep = start

	at := func(d time.Duration, key string) {
		t.Helper()
		clock = start.Add(d)
		require.True(t, l.Allow(key))
	}

	at(0, "a@example.com")
	at(55*time.Second, "b@example.com")

	at(61*time.Second, "c@example.com")
	assert.NotContains(t, l.buckets, "a@example.com")
	assert.Len(t, l.buckets, 2)

	// b is idle past the window, but the last sweep was under a minute ago.
	at(118*time.Second, "d@example.com")
	assert.Contains(t, l.buckets, "b@example.com")
	assert.Len(t, l.buckets, 3)

	at(122*time.Second, "e@example.com")
	assert.ElementsMatch(t, []string{"d@example.com", "e@example.com"}, keys(l.buckets))
}

func keys(m map[string]*bucket) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestLoginLimiterThrottlesPerKey(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l := newLoginLimiter(2)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("a@example.com"))
	assert.False(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("b@example.com"))

	clock = clock.Add(30 * time.Second)
	assert.True(t, l.Allow("a@example.com"))
}
