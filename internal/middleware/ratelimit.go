package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultIdleTTL = 10 * time.Minute

// SubmitLimiter throttles job submissions per client and IP. Each key owns a
// token bucket holding at most Burst tokens, refilled at PerMinute.
// It is mounted on the submit routes only; status reads are never limited.
type SubmitLimiter struct {
	Burst     int
	PerMinute float64
	IdleTTL   time.Duration // buckets untouched this long are evicted
	Now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func NewSubmitLimiter(burst int, perMinute float64) *SubmitLimiter {
	return &SubmitLimiter{
		Burst:     burst,
		PerMinute: perMinute,
		IdleTTL:   defaultIdleTTL,
		buckets:   map[string]*bucket{},
	}
}

func (l *SubmitLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow takes one token from key's bucket. When the bucket is empty it returns
// false and how long until the next token.
func (l *SubmitLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]*bucket{}
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.Burst), lastSeen: now}
		l.buckets[key] = b
	}

	perSec := l.PerMinute / 60
	b.tokens = math.Min(float64(l.Burst), b.tokens+now.Sub(b.lastSeen).Seconds()*perSec)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if perSec <= 0 {
		return false, time.Minute
	}
	wait := time.Duration((1 - b.tokens) / perSec * float64(time.Second))
	return false, wait
}

// Evict drops buckets idle for longer than IdleTTL and returns how many went.
func (l *SubmitLimiter) Evict() int {
	ttl := l.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	cutoff := l.now().Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len is the number of live buckets.
func (l *SubmitLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run evicts idle buckets every interval until ctx is done.
func (l *SubmitLimiter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Evict(); n > 0 {
				log.Debug().Int("evicted", n).Msg("idle rate limit buckets evicted")
			}
		}
	}
}

// Handler rejects a submission with 429 once the caller's bucket is empty.
// The key is the authenticated client plus the remote IP.
func (l *SubmitLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetClientFromContext(r.Context()) + ":" + clientIP(r.RemoteAddr)
		ok, wait := l.Allow(key)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "too many market gap submissions, please try again later", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
