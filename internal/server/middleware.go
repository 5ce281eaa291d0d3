package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through slog instead of chi's stdlib logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// throttleTrigger limits manual digest triggers per client IP
func (s *Server) throttleTrigger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.throttle == nil {
			next.ServeHTTP(w, r)
			return
		}

		if !s.throttle.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.throttle.interval().Seconds())))
			s.respondError(w, http.StatusTooManyRequests, "Too many trigger requests, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's address without the port. RealIP has
// already replaced RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipThrottle keeps one token bucket per client IP. Idle entries are swept
// on access rather than by a background goroutine.
type ipThrottle struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	perHour   int
	now       func() time.Time
	lastSweep time.Time
}

const throttleIdle = 2 * time.Hour

func newIPThrottle(perHour int, now func() time.Time) *ipThrottle {
	return &ipThrottle{
		limiters:  make(map[string]*ipLimiter),
		perHour:   perHour,
		now:       now,
		lastSweep: now(),
	}
}

func (t *ipThrottle) interval() time.Duration {
	return time.Hour / time.Duration(t.perHour)
}

func (t *ipThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) > throttleIdle {
		for key, l := range t.limiters {
			if now.Sub(l.lastSeen) > throttleIdle {
				delete(t.limiters, key)
			}
		}
		t.lastSweep = now
	}

	l, ok := t.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Every(t.interval()), t.perHour)}
		t.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}
