package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// Rate limit key prefixes
	RateLimitKeyPrefix = "ratelimit:"
	IPRateLimitPrefix  = "ratelimit:ip:"

	// Default rate limits
	DefaultRequestsPerMinute = 100
	DefaultBurstSize         = 20
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// RateLimiter counts requests per key in fixed one-minute windows and
// allows requestsPerMinute plus a burst in each window
type RateLimiter struct {
	counters          *cache.Cache
	requestsPerMinute int
	burstSize         int
	windowSize        time.Duration
	now               func() time.Time

	// Forwarding headers are honoured only from these peers
	trustedProxies []netip.Prefix

	mu sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if burstSize < 0 {
		burstSize = 0
	}
	return &RateLimiter{
		counters:          cache.New(2*time.Minute, 5*time.Minute),
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		windowSize:        time.Minute,
		now:               time.Now,
	}
}

// TrustProxies sets the peers whose X-Forwarded-For and X-Real-IP headers
// name the client. Entries are CIDRs or single addresses. With none, the
// limiter keys on the connection's remote address only.
func (rl *RateLimiter) TrustProxies(entries ...string) error {
	prefixes, err := ParseTrustedProxies(entries)
	if err != nil {
		return err
	}
	rl.trustedProxies = prefixes
	return nil
}

// ParseTrustedProxies parses CIDRs and single addresses
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", e)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// RateLimitInfo contains rate limit information
type RateLimitInfo struct {
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// AllowRequest counts one request against key
func (rl *RateLimiter) AllowRequest(key string) (bool, *RateLimitInfo) {
	now := rl.now()
	window := now.Unix() / 60
	windowKey := fmt.Sprintf("%s%s:%d", RateLimitKeyPrefix, key, window)

	rl.mu.Lock()
	var count int64 = 1
	if v, ok := rl.counters.Get(windowKey); ok {
		count = v.(int64) + 1
	}
	rl.counters.Set(windowKey, count, rl.windowSize+time.Second) // Small buffer
	rl.mu.Unlock()

	return count <= int64(rl.requestsPerMinute+rl.burstSize), rl.info(now, count)
}

// GetRateLimitInfo gets current rate limit info without incrementing
func (rl *RateLimiter) GetRateLimitInfo(key string) *RateLimitInfo {
	now := rl.now()
	windowKey := fmt.Sprintf("%s%s:%d", RateLimitKeyPrefix, key, now.Unix()/60)

	var count int64
	if v, ok := rl.counters.Get(windowKey); ok {
		count = v.(int64)
	}
	return rl.info(now, count)
}

// ResetRateLimit forgets the current window of key
func (rl *RateLimiter) ResetRateLimit(key string) {
	rl.counters.Delete(fmt.Sprintf("%s%s:%d", RateLimitKeyPrefix, key, rl.now().Unix()/60))
}

func (rl *RateLimiter) info(now time.Time, count int64) *RateLimitInfo {
	limit := int64(rl.requestsPerMinute)
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetTime := time.Unix((now.Unix()/60+1)*60, 0)
	return &RateLimitInfo{
		Limit:      limit,
		Remaining:  remaining,
		ResetTime:  resetTime,
		RetryAfter: resetTime.Sub(now),
	}
}

// IPRateLimitMiddleware limits requests per client IP
func IPRateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := IPRateLimitPrefix + getClientIP(r, limiter.trustedProxies)

			allowed, info := limiter.AllowRequest(key)

			// Set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(info.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(info.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(info.RetryAfter.Seconds())+1, 10))
				writeRateLimited(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": ErrRateLimitExceeded.Error(),
		},
	})
}

// getClientIP extracts client IP from request. Forwarding headers are
// only read when the direct peer is a trusted proxy; otherwise any client
// could pick its own key.
func getClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	if !isTrusted(remote, trusted) {
		return remote
	}

	// Check X-Forwarded-For header (load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP if multiple (comma-separated)
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header (nginx)
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}

	return remote
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
