package limits

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitPerIPBurst(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPBurst:     2,
		IPRate:      0.001,
		GlobalBurst: 100,
		GlobalRate:  100,
		Logger:      zerolog.Nop(),
	})

	for i := 0; i < 2; i++ {
		ok, _ := l.Admit("10.0.0.1")
		require.True(t, ok)
	}
	ok, reason := l.Admit("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, RejectPerIP, reason)

	ok, _ = l.Admit("10.0.0.2")
	assert.True(t, ok, "other IPs have their own bucket")
}

func TestAdmitGlobalBurst(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPBurst:     10,
		IPRate:      10,
		GlobalBurst: 1,
		GlobalRate:  0.001,
		Logger:      zerolog.Nop(),
	})

	ok, _ := l.Admit("10.0.0.1")
	require.True(t, ok)
	ok, reason := l.Admit("10.0.0.2")
	assert.False(t, ok)
	assert.Equal(t, RejectGlobal, reason)
}

func TestEvictIdle(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{IPTTL: time.Minute, Logger: zerolog.Nop()})
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Admit("10.0.0.1")
	l.Admit("10.0.0.2")
	require.Equal(t, 2, l.TrackedIPs())

	l.now = func() time.Time { return base.Add(30 * time.Second) }
	l.Admit("10.0.0.2")

	l.now = func() time.Time { return base.Add(75 * time.Second) }
	assert.Equal(t, 1, l.evictIdle())
	assert.Equal(t, 1, l.TrackedIPs())
}
