package limits

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Rejection reasons returned by Admit.
const (
	RejectGlobal = "rate_limit_global"
	RejectPerIP  = "rate_limit_ip"
)

// ConnectionRateLimiter throttles upgrade attempts with two token buckets:
// one shared by every client and one per remote IP.
type ConnectionRateLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*ipBucket
	ipBurst int
	ipRate  rate.Limit
	ipTTL   time.Duration

	global *rate.Limiter

	logger zerolog.Logger
	now    func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnectionRateLimiterConfig holds configuration for connection rate limiting
type ConnectionRateLimiterConfig struct {
	IPBurst int           // Max burst connections per IP (default: 10)
	IPRate  float64       // Sustained connections/sec per IP (default: 1.0)
	IPTTL   time.Duration // Forget idle IPs after this duration (default: 5 minutes)

	GlobalBurst int     // Max burst connections gateway-wide (default: 300)
	GlobalRate  float64 // Sustained connections/sec gateway-wide (default: 50.0)

	Logger zerolog.Logger
}

// NewConnectionRateLimiter applies defaults for zero values. Call Run to
// start evicting idle per-IP buckets.
func NewConnectionRateLimiter(config ConnectionRateLimiterConfig) *ConnectionRateLimiter {
	if config.IPBurst == 0 {
		config.IPBurst = 10
	}
	if config.IPRate == 0 {
		config.IPRate = 1.0
	}
	if config.IPTTL == 0 {
		config.IPTTL = 5 * time.Minute
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 300
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 50.0
	}

	l := &ConnectionRateLimiter{
		perIP:   make(map[string]*ipBucket),
		ipBurst: config.IPBurst,
		ipRate:  rate.Limit(config.IPRate),
		ipTTL:   config.IPTTL,
		global:  rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		logger:  config.Logger.With().Str("component", "connection_rate_limiter").Logger(),
		now:     time.Now,
	}

	l.logger.Info().
		Int("ip_burst", config.IPBurst).
		Float64("ip_rate", config.IPRate).
		Dur("ip_ttl", config.IPTTL).
		Int("global_burst", config.GlobalBurst).
		Float64("global_rate", config.GlobalRate).
		Msg("Connection rate limiter initialized")

	return l
}

// Admit reports whether a new connection from ip may proceed. When it may
// not, reason says which bucket was empty.
func (l *ConnectionRateLimiter) Admit(ip string) (ok bool, reason string) {
	if !l.global.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: global rate limit exceeded")
		return false, RejectGlobal
	}
	if !l.bucket(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: per-IP rate limit exceeded")
		return false, RejectPerIP
	}
	return true, ""
}

func (l *ConnectionRateLimiter) bucket(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.perIP[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.perIP[ip] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

// Run evicts idle per-IP buckets once a minute until ctx is done.
func (l *ConnectionRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *ConnectionRateLimiter) evictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ipTTL)
	removed := 0
	for ip, b := range l.perIP {
		if b.lastSeen.Before(cutoff) {
			delete(l.perIP, ip)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(l.perIP)).
			Msg("Evicted idle IP rate limiters")
	}
	return removed
}

// TrackedIPs is the number of per-IP buckets currently held.
func (l *ConnectionRateLimiter) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}
