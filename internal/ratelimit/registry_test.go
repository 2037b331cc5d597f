package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReusesLimiterPerHost(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.limiter("www.example.com")
	b := r.limiter("www.example.com")
	c := r.limiter("other.example.com")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestRegistryBurstThenThrottle(t *testing.T) {
	r := NewRegistry(Config{RatePerSecond: 5, Burst: 5})

	// Burst capacity is granted immediately.
	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow("www.example.com"), "token %d", i)
	}
	// Bucket drained.
	assert.False(t, r.Allow("www.example.com"))
}

func TestRegistryLoopbackRate(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	// Loopback limiter is far deeper than the remote default.
	assert.Equal(t, 300.0, r.rateFor("localhost"))
	assert.Equal(t, 300.0, r.rateFor("127.0.0.1"))
	assert.Equal(t, 300.0, r.rateFor("::1"))
	assert.Equal(t, 5.0, r.rateFor("www.example.com"))
}

func TestRegistryOverride(t *testing.T) {
	r := NewRegistry(Config{
		RatePerSecond: 5,
		Burst:         5,
		Overrides:     map[string]float64{"slow.example.com": 1},
	})
	assert.Equal(t, 1.0, r.rateFor("slow.example.com"))
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRegistry(Config{RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, r.Wait(context.Background(), "www.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx, "www.example.com")
	assert.Error(t, err)
}
