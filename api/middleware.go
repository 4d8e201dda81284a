package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_ip", clientIP(r)),
			}
			switch {
			case ww.Status() >= 500:
				logger.Error("request", fields...)
			case ww.Status() >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

// =============================================================================
// RATE LIMITING - token bucket per client IP
// =============================================================================

const limiterIdleTTL = 10 * time.Minute

type ipLimiters struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastPrune time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for k, c := range l.limiters {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastPrune = now
	}

	c, ok := l.limiters[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// RateLimit allows rps requests per second per client IP with the given
// burst. rps <= 0 disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := &ipLimiters{
		rps:       rate.Limit(rps),
		burst:     burst,
		limiters:  make(map[string]*clientLimiter),
		lastPrune: time.Now(),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.get(clientIP(r), time.Now()).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects middleware.RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
