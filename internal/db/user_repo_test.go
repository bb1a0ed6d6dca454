package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coachkit/internal/types"
)

func userRow(id, email string, recoveryHash *string, created time.Time) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = email
		*dest[2].(*string) = "Ann"
		*dest[3].(*string) = "$2a$10$hash"
		*dest[4].(**string) = recoveryHash
		*dest[5].(**time.Time) = nil
		*dest[6].(*time.Time) = created
		*dest[7].(**time.Time) = nil
		return nil
	}}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		hash := "abc"
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"a@x.com"}).
			Return(userRow("user_1", "a@x.com", &hash, created))

		u, err := repo.GetByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, "user_1", u.ID)
		assert.Equal(t, "Ann", u.Name)
		assert.Equal(t, "abc", u.RecoveryTokenHash)
		assert.Equal(t, created, u.CreatedAt)
		db.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"none@x.com"}).Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, err := repo.GetByEmail(ctx, "none@x.com")
		assert.Equal(t, types.ErrCodeNotFoundUser, types.CodeOf(err))
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanErr: errors.New("boom")})

		_, err := repo.GetByEmail(ctx, "a@x.com")
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

func TestUserRepository_CreateIfAbsent_Inserted(t *testing.T) {
	ctx := context.Background()
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	user := &types.User{ID: "user_new", Email: "a@x.com", Name: "Ann", PasswordHash: "h", CreatedAt: now}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_new"
			return nil
		}})

	got, outcome, err := repo.CreateIfAbsent(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCreated, outcome)
	assert.Same(t, user, got)
}

func TestUserRepository_CreateIfAbsent_LostRace(t *testing.T) {
	ctx := context.Background()
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	user := &types.User{ID: "user_new", Email: "a@x.com", Name: "Ann", PasswordHash: "h", CreatedAt: now}

	// The insert matches on its seven arguments; the follow-up lookup on one.
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool { return len(args) == 7 })).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"a@x.com"}).
		Return(userRow("user_existing", "a@x.com", nil, now)).Once()

	got, outcome, err := repo.CreateIfAbsent(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeReused, outcome)
	assert.Equal(t, "user_existing", got.ID)
	db.AssertExpectations(t)
}

func TestUserRepository_CompleteRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("redeemed", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"newhash", "user_1", "tokhash"}).
			Return(pgconn.NewCommandTag("UPDATE 1"), nil)
		require.NoError(t, repo.CompleteRecovery(ctx, "user_1", "tokhash", "newhash"))
	})

	t.Run("already used", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("UPDATE 0"), nil)
		err := repo.CompleteRecovery(ctx, "user_1", "tokhash", "newhash")
		assert.Equal(t, types.ErrCodeAuthTokenInvalid, types.CodeOf(err))
	})
}

func TestUserRepository_GetByRecoveryTokenHash_Unknown(t *testing.T) {
	ctx := context.Background()
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"nope"}).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByRecoveryTokenHash(ctx, "nope")
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, types.CodeOf(err))
}

func TestUserRepository_SetRecoveryToken_UnknownUser(t *testing.T) {
	ctx := context.Background()
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	exp := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"h", exp, "ghost"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.SetRecoveryToken(ctx, "ghost", "h", exp)
	assert.Equal(t, types.ErrCodeNotFoundUser, types.CodeOf(err))
}
