package core

import (
	"context"
	"sync"
	"time"

	"coachkit/internal/types"
)

// MockAuthenticator is an Authenticator for tests in this and the handler
// packages. ResolveTokenFunc, when set, takes precedence over Err and Actor.
//
//	auth := &MockAuthenticator{Actor: &types.Actor{UserID: "user-1", SessionID: "sess_1"}}
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore is a RateLimitStore returning a fixed Result and Err.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records one IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()
	return m.Result, m.Err
}

var (
	_ Authenticator  = (*MockAuthenticator)(nil)
	_ RateLimitStore = (*MockRateLimitStore)(nil)
)
