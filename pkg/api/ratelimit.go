package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/rttmon/pkg/config"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type clientBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// clientLimiters hands out one token bucket per client IP. Idle buckets are
// swept in the background until close is called.
type clientLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*clientBucket

	done      chan struct{}
	closeOnce sync.Once
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	l := &clientLimiters{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   cfg.RequestsPerMinute,
		buckets: make(map[string]*clientBucket, 64),
		done:    make(chan struct{}),
	}

	go l.sweepLoop()

	return l
}

// reserve takes a token for ip. When none is available it returns how long
// the client should wait.
func (l *clientLimiters) reserve(ip string) (bool, time.Duration) {
	now := time.Now()

	l.mu.Lock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}

	b.seen = now

	l.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	return false, delay
}

func (l *clientLimiters) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *clientLimiters) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, b := range l.buckets {
		if now.Sub(b.seen) > limiterIdleTTL {
			delete(l.buckets, ip)
		}
	}
}

func (l *clientLimiters) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// rateLimit rejects clients that exceed their per-minute budget with 429 and
// a Retry-After hint.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiters.reserve(extractIP(r))
		if !ok {
			if wait > 0 {
				secs := int(math.Ceil(wait.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}

			writeJSON(w, http.StatusTooManyRequests,
				errorResponse{"rate limit exceeded"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractIP returns the client address, preferring the first hop of
// X-Forwarded-For.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
