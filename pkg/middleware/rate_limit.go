package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"rsvp/pkg/logger"

	"golang.org/x/time/rate"
)

const RequesterHeader = "X-Requester-ID"

type KeyExtractor func(r *http.Request) string

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequesterRateLimiter keeps one token bucket per requester and drops
// buckets that have been idle for longer than idleTTL.
type RequesterRateLimiter struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	keyExtractor KeyExtractor
	log          *logger.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewRequesterRateLimiter(rps float64, burst int, extractor KeyExtractor, log *logger.Logger) *RequesterRateLimiter {
	if extractor == nil {
		extractor = DefaultKeyExtractor
	}
	limiter := &RequesterRateLimiter{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		keyExtractor: extractor,
		log:          log,
		stopCh:       make(chan struct{}),
	}

	go limiter.cleanup(2 * time.Minute)

	return limiter
}

func (rl *RequesterRateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RequesterRateLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-rl.idleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, key)
		}
	}
}

func (rl *RequesterRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RequesterRateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.entries[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.entries[key] = &limiterEntry{limiter: lim, lastSeen: now}
	return lim
}

// Reserve takes a token for key. It returns zero when the request may
// proceed, or how long the caller should wait before retrying.
func (rl *RequesterRateLimiter) Reserve(key string) time.Duration {
	if key == "" {
		return 0
	}
	res := rl.limiter(key).Reserve()
	if !res.OK() {
		return time.Second
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
	}
	return delay
}

func (rl *RequesterRateLimiter) Allow(key string) bool {
	return rl.Reserve(key) == 0
}

func RateLimit(limiter *RequesterRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.keyExtractor(r)

			if wait := limiter.Reserve(key); wait > 0 {
				rejectRateLimited(w, limiter.log, r, key, wait)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(w http.ResponseWriter, log *logger.Logger, r *http.Request, key string, wait time.Duration) {
	log.Warn("Rate limit exceeded",
		"request_id", RequestID(r),
		"requester", key,
		"path", r.URL.Path,
		"retry_after", wait,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"Rate limit exceeded","retryable":true}`))
}

// DefaultKeyExtractor identifies the caller by the requester header, falling
// back to the client address.
func DefaultKeyExtractor(r *http.Request) string {
	if id := r.Header.Get(RequesterHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
