package core

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"coachkit/internal/types"
)

// Authenticator decouples the HTTP layer from the session store.
type Authenticator interface {
	// ResolveToken returns the Actor behind a bearer token. It returns
	// ErrCodeAuthTokenInvalid for unknown or malformed tokens and
	// ErrCodeAuthSessionExpired for sessions past their expiry.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and reports
	// whether the limit has been exceeded within the window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RouteRegistrar mounts a handler group's routes on a router. Handler
// packages provide registrars so core never imports them.
type RouteRegistrar func(r chi.Router)
