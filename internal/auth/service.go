package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"coachkit/internal/db"
	"coachkit/internal/types"
)

// UserRepo defines the user operations the auth service needs.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	GetByRecoveryTokenHash(ctx context.Context, tokenHash string) (*types.User, error)
	CompleteRecovery(ctx context.Context, userID, tokenHash, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// AuthTxManager abstracts transactional execution for the auth service.
// The callback receives transaction-scoped repositories so every write in
// it commits or rolls back together.
type AuthTxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error) error
}

// dbTxManager adapts db.TxManager to AuthTxManager.
type dbTxManager struct {
	tx *db.TxManager
}

// NewTxManager wraps a database transaction manager for the auth service.
func NewTxManager(tx *db.TxManager) AuthTxManager {
	return &dbTxManager{tx: tx}
}

func (m *dbTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error) error {
	return m.tx.RunInTx(ctx, func(ctx context.Context, repos *db.Repos) error {
		return fn(ctx, repos.Users, repos.Sessions)
	})
}

// authService implements login, logout and account recovery.
type authService struct {
	userRepo   UserRepo
	sessionSvc *sessionService
	txManager  AuthTxManager
	hasher     PasswordHasher
	minLength  int
	clock      types.Clock
	logger     *slog.Logger
}

// AuthServiceConfig holds the dependencies for creating an auth service.
type AuthServiceConfig struct {
	UserRepo       UserRepo
	SessionService *sessionService
	TxManager      AuthTxManager
	Hasher         PasswordHasher

	// MinPasswordLength defaults to MinPasswordLength.
	MinPasswordLength int
	Clock             types.Clock
	Logger            *slog.Logger
}

// NewAuthService creates a new auth service.
// If Hasher is nil, bcrypt with the default cost is used.
func NewAuthService(cfg AuthServiceConfig) *authService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minLength := cfg.MinPasswordLength
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	return &authService{
		userRepo:   cfg.UserRepo,
		sessionSvc: cfg.SessionService,
		txManager:  cfg.TxManager,
		hasher:     hasher,
		minLength:  minLength,
		clock:      clock,
		logger:     logger,
	}
}

// Login verifies credentials and creates a session.
//
// Unknown emails and wrong passwords return the same
// ErrCodeAuthInvalidCreds so the endpoint cannot be used to probe for
// accounts. Accounts created by checkout hold a password nobody knows
// and therefore fail here until recovery is completed.
func (s *authService) Login(ctx context.Context, email, password string) (*types.User, *types.Session, error) {
	email = strings.TrimSpace(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundUser) {
			return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		s.logger.InfoContext(ctx, "login rejected", "user_id", user.ID)
		return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	now := s.clock.Now()
	var session *types.Session
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error {
		if updateErr := txUserRepo.UpdateLastLogin(txCtx, user.ID, now); updateErr != nil {
			return updateErr
		}
		sess, createErr := s.sessionSvc.withRepo(txSessionRepo).CreateSession(txCtx, user.ID)
		if createErr != nil {
			return createErr
		}
		session = sess
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	user.LastLoginAt = &now
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return user, session, nil
}

// CompleteRecovery redeems a recovery token: it sets the new password,
// clears the token, revokes older sessions and issues a fresh session, all
// in one transaction. A failed transaction leaves the token redeemable.
func (s *authService) CompleteRecovery(ctx context.Context, token, password string) (*types.User, *types.Session, error) {
	if len(password) < s.minLength {
		return nil, nil, types.NewAppErrorWithDetails(types.ErrCodeValidationPassword,
			"password is too short", nil, map[string]any{"min_length": s.minLength})
	}

	tokenHash := HashToken(token)
	user, err := s.userRepo.GetByRecoveryTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, nil, err
	}
	if user.RecoveryExpiresAt != nil && s.clock.Now().After(*user.RecoveryExpiresAt) {
		return nil, nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "recovery token has expired", nil)
	}

	passwordHash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	now := s.clock.Now()
	var session *types.Session
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error {
		if updateErr := txUserRepo.CompleteRecovery(txCtx, user.ID, tokenHash, passwordHash); updateErr != nil {
			return updateErr
		}
		if _, delErr := txSessionRepo.DeleteByUser(txCtx, user.ID); delErr != nil {
			return delErr
		}
		if updateErr := txUserRepo.UpdateLastLogin(txCtx, user.ID, now); updateErr != nil {
			return updateErr
		}
		sess, createErr := s.sessionSvc.withRepo(txSessionRepo).CreateSession(txCtx, user.ID)
		if createErr != nil {
			return createErr
		}
		session = sess
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	user.PasswordHash = passwordHash
	user.RecoveryTokenHash = ""
	user.RecoveryExpiresAt = nil
	user.LastLoginAt = &now

	s.logger.InfoContext(ctx, "account recovery completed", "user_id", user.ID)
	return user, session, nil
}

// Logout invalidates the given session.
func (s *authService) Logout(ctx context.Context, sessionID string) error {
	return s.sessionSvc.InvalidateSession(ctx, sessionID)
}
