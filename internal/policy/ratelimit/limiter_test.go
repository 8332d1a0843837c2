package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSecondRequest(t *testing.T) {
	t.Parallel()

	// 10 RPS = 100ms interval; burst 1 grants the first call immediately.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://fanqienovel.com/reader/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://fanqienovel.com/reader/2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "host b blocked by host a")
}

func TestLimiterUnlimitedAndCanceled(t *testing.T) {
	t.Parallel()

	unlimited := New(Config{})
	for range 100 {
		require.NoError(t, unlimited.Wait(context.Background(), "https://fanqienovel.com/page/1"))
	}

	slow := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, slow.Wait(context.Background(), "https://fanqienovel.com"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorContains(t, slow.Wait(ctx, "https://fanqienovel.com"), "rate limit wait")
}
