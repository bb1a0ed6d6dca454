package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"coachkit/internal/types"
)

// SessionConfig holds configuration for session management.
type SessionConfig struct {
	// SessionDuration is the lifetime of a new session.
	SessionDuration time.Duration
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SessionDuration: 7 * 24 * time.Hour,
	}
}

// SessionRepo defines the data access methods needed by the session service.
type SessionRepo interface {
	Create(ctx context.Context, session *types.Session) error
	GetValid(ctx context.Context, sessionID string, now time.Time) (*types.Session, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// sessionService creates, validates and revokes sessions.
type sessionService struct {
	repo     SessionRepo
	tokenGen TokenGenerator
	config   SessionConfig
	clock    types.Clock
	logger   *slog.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(
	repo SessionRepo,
	tokenGen TokenGenerator,
	config SessionConfig,
	clock types.Clock,
	logger *slog.Logger,
) *sessionService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.SessionDuration <= 0 {
		config.SessionDuration = DefaultSessionConfig().SessionDuration
	}
	return &sessionService{
		repo:     repo,
		tokenGen: tokenGen,
		config:   config,
		clock:    clock,
		logger:   logger,
	}
}

// CreateSession creates and stores a new session for the user.
func (s *sessionService) CreateSession(ctx context.Context, userID string) (*types.Session, error) {
	sessionID, err := s.tokenGen.GenerateSessionID()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate session ID", err)
	}

	now := s.clock.Now()
	session := &types.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionDuration),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session created", "user_id", userID)
	return session, nil
}

// ValidateSession returns the session if it exists and has not expired.
func (s *sessionService) ValidateSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.repo.GetValid(ctx, sessionID, s.clock.Now())
}

// InvalidateSession deletes a single session.
func (s *sessionService) InvalidateSession(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session invalidated")
	return nil
}

// InvalidateAllUserSessions removes every session of a user.
func (s *sessionService) InvalidateAllUserSessions(ctx context.Context, userID string) error {
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "all sessions invalidated for user", "user_id", userID, "count", n)
	return nil
}

// withRepo returns a copy bound to a transaction-scoped repository.
func (s *sessionService) withRepo(repo SessionRepo) *sessionService {
	return &sessionService{
		repo:     repo,
		tokenGen: s.tokenGen,
		config:   s.config,
		clock:    s.clock,
		logger:   s.logger,
	}
}

const sessionPrefix = "sess_"

// SessionAuthenticator resolves bearer session tokens for the HTTP layer.
type SessionAuthenticator struct {
	sessions *sessionService
}

// NewSessionAuthenticator creates a SessionAuthenticator.
func NewSessionAuthenticator(sessions *sessionService) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions}
}

// ResolveToken maps a "sess_" token to its Actor. Tokens with any other
// prefix are invalid.
func (a *SessionAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if !strings.HasPrefix(token, sessionPrefix) || len(token) == len(sessionPrefix) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unrecognized token format", nil)
	}
	session, err := a.sessions.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return &types.Actor{UserID: session.UserID, SessionID: session.ID}, nil
}
