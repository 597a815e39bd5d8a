package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/park285/tarik-tambang-server/pkg/matchdto"
	"golang.org/x/time/rate"
)

const (
	// map size before a prune pass runs
	cleanupThreshold = 500
	maxIdleAge       = 10 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP and prunes idle ones inline.
type IPRateLimiter struct {
	ips map[string]*ipEntry
	mu  sync.Mutex
	r   rate.Limit
	b   int
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{ips: make(map[string]*ipEntry), r: rate.Limit(rps), b: burst}
}

func (i *IPRateLimiter) limiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.ips) > cleanupThreshold {
		cutoff := time.Now().Add(-maxIdleAge)
		for k, e := range i.ips {
			if e.lastSeen.Before(cutoff) {
				delete(i.ips, k)
			}
		}
	}
	e, ok := i.ips[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(i.r, i.b)}
		i.ips[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow consumes one token for ip.
func (i *IPRateLimiter) Allow(ip string) bool { return i.limiter(ip).Allow() }

// Middleware rejects requests over budget with 429.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !i.Allow(ip) {
			w.Header().Set("Retry-After", "1")
			writeDomainError(w, http.StatusTooManyRequests, matchdto.DomainError{
				Code: matchdto.CodeRateLimited, Message: http.StatusText(http.StatusTooManyRequests), Retryable: true,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
