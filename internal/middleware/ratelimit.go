package middleware

import (
	"net/http"
	"time"

	tollbooth "github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"
)

// Limiter decides whether a request may proceed. It is process state with
// its own expiry; a shared implementation can replace it in multi-instance
// deployments.
type Limiter interface {
	Allow(r *http.Request) bool
}

// LimiterFunc adapts a function to Limiter.
type LimiterFunc func(r *http.Request) bool

// Allow calls f.
func (f LimiterFunc) Allow(r *http.Request) bool { return f(r) }

// IPLimiter limits requests per client IP with a token bucket per address.
// Idle buckets expire after ttl.
type IPLimiter struct {
	lmt *limiter.Limiter
}

// NewIPLimiter creates a limiter allowing rps requests per second per IP.
// The client is identified by RemoteAddr only; forwarding headers are
// client-controlled and reach RemoteAddr only through a trusted proxy
// rewrite upstream of the limiter.
func NewIPLimiter(rps float64, ttl time.Duration) *IPLimiter {
	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetIPLookups([]string{"RemoteAddr"})
	return &IPLimiter{lmt: lmt}
}

// Allow reports whether r is within its client's rate.
func (l *IPLimiter) Allow(r *http.Request) bool {
	for _, keys := range tollbooth.BuildKeys(l.lmt, r) {
		if tollbooth.LimitByKeys(l.lmt, keys) != nil {
			return false
		}
	}
	return true
}

// RateLimit rejects requests l does not allow. A nil l allows everything.
func RateLimit(l Limiter) Hook {
	return func(r *http.Request) (*http.Request, error) {
		if l != nil && !l.Allow(r) {
			return r, ErrRateLimited
		}
		return r, nil
	}
}
