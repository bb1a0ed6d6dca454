package core

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"coachkit/internal/types"
)

const (
	defaultRateLimitMax    = 60
	defaultRateLimitWindow = time.Minute
)

// RateLimit throttles unauthenticated endpoints per client IP. Store errors
// fail open. Without a RateLimitStore the middleware passes through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.rateLimitPolicy()
		ip := extractClientIP(r)
		key := "ip:" + ip + ":" + r.URL.Path

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, window)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			JSON(w, r, http.StatusTooManyRequests, APIErrorResponse{
				Error:     "Rate limit exceeded. Please retry after the reset time.",
				Code:      string(types.ErrCodeUpstreamRateLimited),
				RequestID: types.GetRequestID(r.Context()),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPolicy() (int, time.Duration) {
	limit, window := defaultRateLimitMax, defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.Security.PublicRateLimit > 0 {
			limit = s.Config.Security.PublicRateLimit
		}
		if s.Config.Security.PublicRateWindow > 0 {
			window = s.Config.Security.PublicRateWindow
		}
	}
	return limit, window
}

// extractClientIP prefers the first X-Forwarded-For entry (the original
// client behind API Gateway) and falls back to RemoteAddr without its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// MemoryRateLimitStore is a fixed-window counter held in process memory.
// Counts are per process.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	clock   types.Clock
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimitStore creates an empty MemoryRateLimitStore.
func NewMemoryRateLimitStore(clock types.Clock) *MemoryRateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryRateLimitStore{
		windows: make(map[string]*rateWindow),
		clock:   clock,
	}
}

func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		m.sweepLocked(now)
		w = &rateWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

// sweepLocked drops expired windows so idle keys do not accumulate.
func (m *MemoryRateLimitStore) sweepLocked(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
