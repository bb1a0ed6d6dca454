package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coachkit/internal/types"
)

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// --- Mock SessionRepo ---

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, session *types.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockSessionRepo) GetValid(ctx context.Context, sessionID string, now time.Time) (*types.Session, error) {
	args := m.Called(ctx, sessionID, now)
	if s := args.Get(0); s != nil {
		return s.(*types.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *mockSessionRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock TokenGenerator ---

type mockTokenGenerator struct {
	mock.Mock
}

func (m *mockTokenGenerator) GenerateSessionID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockTokenGenerator) GenerateSecureToken() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

var sessionTestNow = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

func newTestSessionService(repo *mockSessionRepo, tokenGen *mockTokenGenerator) *sessionService {
	return NewSessionService(repo, tokenGen, DefaultSessionConfig(), &mockClock{now: sessionTestNow}, nil)
}

func TestSessionService_CreateSession_Success(t *testing.T) {
	repo := new(mockSessionRepo)
	tokenGen := new(mockTokenGenerator)
	svc := newTestSessionService(repo, tokenGen)

	tokenGen.On("GenerateSessionID").Return("sess_abc123", nil)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(s *types.Session) bool {
		return s.ID == "sess_abc123" &&
			s.UserID == "user_1" &&
			s.ExpiresAt.Equal(sessionTestNow.Add(7*24*time.Hour)) &&
			s.CreatedAt.Equal(sessionTestNow)
	})).Return(nil)

	session, err := svc.CreateSession(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "sess_abc123", session.ID)
	assert.Equal(t, "user_1", session.UserID)

	repo.AssertExpectations(t)
	tokenGen.AssertExpectations(t)
}

func TestSessionService_CreateSession_GenerationError(t *testing.T) {
	repo := new(mockSessionRepo)
	tokenGen := new(mockTokenGenerator)
	svc := newTestSessionService(repo, tokenGen)

	tokenGen.On("GenerateSessionID").Return("", errors.New("entropy failure"))

	_, err := svc.CreateSession(context.Background(), "user_1")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalUnexpected))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSessionService_CreateSession_RepoError(t *testing.T) {
	repo := new(mockSessionRepo)
	tokenGen := new(mockTokenGenerator)
	svc := newTestSessionService(repo, tokenGen)

	tokenGen.On("GenerateSessionID").Return("sess_abc123", nil)
	repo.On("Create", mock.Anything, mock.Anything).
		Return(types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil))

	_, err := svc.CreateSession(context.Background(), "user_1")
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestSessionService_ValidateSession_UsesClock(t *testing.T) {
	repo := new(mockSessionRepo)
	svc := newTestSessionService(repo, new(mockTokenGenerator))

	want := &types.Session{ID: "sess_1", UserID: "user_1"}
	repo.On("GetValid", mock.Anything, "sess_1", sessionTestNow).Return(want, nil)

	got, err := svc.ValidateSession(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSessionService_InvalidateAllUserSessions(t *testing.T) {
	repo := new(mockSessionRepo)
	svc := newTestSessionService(repo, new(mockTokenGenerator))

	repo.On("DeleteByUser", mock.Anything, "user_1").Return(int64(3), nil)
	require.NoError(t, svc.InvalidateAllUserSessions(context.Background(), "user_1"))
	repo.AssertExpectations(t)
}

func TestSessionAuthenticator_ResolveToken(t *testing.T) {
	repo := new(mockSessionRepo)
	auth := NewSessionAuthenticator(newTestSessionService(repo, new(mockTokenGenerator)))

	repo.On("GetValid", mock.Anything, "sess_good", sessionTestNow).
		Return(&types.Session{ID: "sess_good", UserID: "user_1"}, nil)
	repo.On("GetValid", mock.Anything, "sess_old", sessionTestNow).
		Return(nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "expired", nil))

	actor, err := auth.ResolveToken(context.Background(), "sess_good")
	require.NoError(t, err)
	assert.Equal(t, &types.Actor{UserID: "user_1", SessionID: "sess_good"}, actor)

	_, err = auth.ResolveToken(context.Background(), "sess_old")
	assert.True(t, types.HasCode(err, types.ErrCodeAuthSessionExpired))

	for _, bad := range []string{"sk_live_123", "sess_", ""} {
		_, err = auth.ResolveToken(context.Background(), bad)
		assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenInvalid), bad)
	}
	repo.AssertNumberOfCalls(t, "GetValid", 2)
}
