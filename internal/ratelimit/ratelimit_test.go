package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Policy-Guru-za/chipin/internal/kv"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *testClock) {
	clock := &testClock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	return New(kv.NewMemory(clock.Now), clock.Now), clock
}

func TestEnforce_HourWindowBinds(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()
	key := Key("webhook:payfast", "203.0.113.7")

	// 120 запросов пачками по 20 в минуту: минутное окно ни разу не превышено.
	for i := 0; i < 120; i++ {
		if i > 0 && i%20 == 0 {
			clock.Advance(61 * time.Second)
		}
		res, err := l.Enforce(ctx, key, 120, 20)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d must be allowed", i+1)
	}

	clock.Advance(61 * time.Second)

	res, err := l.Enforce(ctx, key, 120, 20)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, time.Hour-366*time.Second, res.RetryAfter)
}

func TestEnforce_MinuteBurstBinds(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res, err := l.Enforce(ctx, "k", 120, 20)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	clock.Advance(15 * time.Second)

	res, err := l.Enforce(ctx, "k", 120, 20)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 45*time.Second, res.RetryAfter)

	clock.Advance(45 * time.Second)
	res, err = l.Enforce(ctx, "k", 120, 20)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new minute window must allow again")
}

func TestEnforce_RemainingTracksTighterWindow(t *testing.T) {
	l, _ := newTestLimiter()

	res, err := l.Enforce(context.Background(), "k", 120, 20)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(19), res.Remaining)
}

func TestEnforce_DisabledLimits(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		res, err := l.Enforce(ctx, "trusted", 0, 1)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.True(t, res.Unlimited)
	}

	for i := 0; i < 30; i++ {
		res, err := l.Enforce(ctx, "no-burst", 100, 0)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

type failingStore struct {
	kv.Store
}

func (failingStore) Incr(context.Context, string, time.Duration) (kv.Counter, error) {
	return kv.Counter{}, errors.New("store down")
}

func TestEnforce_FailsOpenOnStoreError(t *testing.T) {
	l := New(failingStore{}, nil)

	res, err := l.Enforce(context.Background(), "k", 10, 5)
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}
