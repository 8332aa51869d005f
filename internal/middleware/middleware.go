package api_middleware

import (
	"net"
	"net/http"
	"sync"

	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const APIKeyHeader = "X-API-Key"

// TokenAuth checks the X-API-Key header against a bcrypt hash. An empty
// hash disables the check.
type TokenAuth struct {
	hash []byte
}

func NewTokenAuth(hash string) *TokenAuth {
	return &TokenAuth{hash: []byte(hash)}
}

func (ta *TokenAuth) Enabled() bool {
	return len(ta.hash) > 0
}

func (ta *TokenAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ta.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			logger.Error("no API key provided")
			commons.RespondWithError(w, http.StatusUnauthorized, "no API key provided")
			return
		}
		if err := bcrypt.CompareHashAndPassword(ta.hash, []byte(apiKey)); err != nil {
			logger.Errorf("invalid API key from %s", r.RemoteAddr)
			commons.RespondWithError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.clients[ip]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[ip] = l
	}
	return l
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.limiter(ip).Allow() {
			logger.Errorf("rate limit exceeded for IP: %s", ip)
			commons.RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
