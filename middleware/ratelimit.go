package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mnehpets/a2aserve/auth"
	"github.com/mnehpets/a2aserve/endpoint"
	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused caller bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

// evictEvery is the number of Allow calls between idle sweeps.
const evictEvery = 512

// KeyLimiter applies a token bucket per key and periodically evicts idle
// buckets.
type KeyLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyLimiter creates a limiter allowing rps requests per second with the
// given burst for each key. It returns nil, which allows everything, when
// rps or burst is not positive.
func NewKeyLimiter(rps float64, burst int, idleTTL time.Duration) *KeyLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &KeyLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Reserve consumes one token for key at now. When the bucket is empty it
// returns false and how long until a token is available.
func (l *KeyLimiter) Reserve(key string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now

	l.hits++
	if l.hits%evictEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	if e.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := e.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// Len returns the number of tracked keys.
func (l *KeyLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

// RateLimitProcessor rejects callers exceeding their request rate with 429.
// Authenticated callers are keyed by principal ID, others by client IP, so it
// belongs after the authentication processors.
type RateLimitProcessor struct {
	limiter *KeyLimiter
	now     func() time.Time
}

// NewRateLimitProcessor creates a RateLimitProcessor; a nil limiter allows
// every request.
func NewRateLimitProcessor(limiter *KeyLimiter) *RateLimitProcessor {
	return &RateLimitProcessor{limiter: limiter, now: time.Now}
}

// Process implements endpoint.Processor.
func (p *RateLimitProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	ok, retryAfter := p.limiter.Reserve(rateLimitKey(r), p.now())
	if !ok {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		return endpoint.Error(http.StatusTooManyRequests, "rate limit exceeded", nil)
	}
	return next(w, r)
}

func rateLimitKey(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok && u.IsAuthenticated() {
		if p, ok := u.(*auth.Principal); ok && p.ID != "" {
			return "user:" + p.ID
		}
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

var _ endpoint.Processor = (*RateLimitProcessor)(nil)
