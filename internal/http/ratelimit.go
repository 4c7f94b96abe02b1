package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limiters hands out one token bucket per client IP. The map is reset
// hourly so idle clients do not accumulate.
type limiters struct {
	mu          sync.Mutex
	perSecond   rate.Limit
	burst       int
	byIP        map[string]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

func newLimiters(perSecond float64, burst int) *limiters {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiters{
		perSecond:   rate.Limit(perSecond),
		burst:       burst,
		byIP:        make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *limiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Sub(l.lastCleanup) > time.Hour {
		l.byIP = make(map[string]*rate.Limiter)
		l.lastCleanup = l.now()
	}

	limiter, ok := l.byIP[ip]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.byIP[ip] = limiter
	}
	return limiter
}

// rateLimit rejects clients that exceed their bucket with 429.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := clientIP(c.Request())
		if !s.limiters.get(ip).Allow() {
			s.metrics.rateLimited.Inc()
			s.logger.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", ip))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// clientIP extracts the client IP address from the request.
func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
