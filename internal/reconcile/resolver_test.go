package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachkit/internal/types"
)

func newTestResolver(db *memDB, notifier *recordingNotifier, creds *fakeCredentials) *Resolver {
	return NewResolver(db.Users(), db.Mappings(), db.Profiles(), creds, notifier, ResolverConfig{
		AppURL:      "https://app.example.com/",
		RecoveryTTL: 48 * time.Hour,
		Clock:       fixedClock{t: testNow},
	})
}

func TestResolver_CreatesAccountOnFirstContact(t *testing.T) {
	db := newMemDB()
	notifier := &recordingNotifier{}
	r := newTestResolver(db, notifier, &fakeCredentials{})

	res, err := r.Resolve(context.Background(), Identity{Email: " ann@example.com ", Name: "Ann", CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCreated, res.Outcome)
	assert.NotEmpty(t, res.UserID)

	user := db.users["ann@example.com"]
	require.NotNil(t, user)
	assert.Equal(t, "Ann", user.Name)
	assert.Equal(t, "$2a$10$temporary", user.PasswordHash)
	assert.Equal(t, "hash-1", user.RecoveryTokenHash)
	require.NotNil(t, user.RecoveryExpiresAt)
	assert.True(t, user.RecoveryExpiresAt.Equal(testNow.Add(48*time.Hour)))

	assert.Equal(t, res.UserID, db.mappings["cus_1"].UserID)
	profile := db.profile(res.UserID)
	require.NotNil(t, profile)
	assert.Equal(t, types.TierFree, profile.Entitlement.Tier)

	require.Equal(t, 1, notifier.count())
	msg := notifier.msgs[0]
	assert.Equal(t, "ann@example.com", msg.Email)
	assert.Equal(t, "https://app.example.com/account/recover?token=token-1", msg.RecoveryURL)
	assert.NotContains(t, msg.RecoveryURL, "hash-1")
}

func TestResolver_ReusesExistingUser(t *testing.T) {
	db := newMemDB()
	notifier := &recordingNotifier{}
	r := newTestResolver(db, notifier, &fakeCredentials{})
	ctx := context.Background()

	first, err := r.Resolve(ctx, Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"})
	require.NoError(t, err)

	// A second checkout creates a second provider customer for the same person.
	second, err := r.Resolve(ctx, Identity{Email: "ann@example.com", Name: "Ann B", CustomerID: "cus_2"})
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeReused, second.Outcome)
	assert.Equal(t, first.UserID, second.UserID)
	assert.Len(t, db.users, 1)
	assert.Equal(t, first.UserID, db.mappings["cus_2"].UserID)
	assert.Equal(t, "Ann B", db.profile(first.UserID).DisplayName)
	assert.Equal(t, 1, notifier.count(), "no recovery email for an existing account")
}

func TestResolver_NewCustomerRetiresPreviousMapping(t *testing.T) {
	db := newMemDB()
	r := newTestResolver(db, &recordingNotifier{}, &fakeCredentials{})
	ctx := context.Background()

	first, err := r.Resolve(ctx, Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_2"})
	require.NoError(t, err)

	assert.NotNil(t, db.mappings["cus_1"].DeletedAt)
	assert.Nil(t, db.mappings["cus_2"].DeletedAt)
	ids, err := db.Mappings().ListActiveCustomerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cus_2"}, ids)

	_, err = db.Mappings().UserIDFor(ctx, "cus_1")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundCustomerMapping))
	userID, err := db.Mappings().UserIDFor(ctx, "cus_2")
	require.NoError(t, err)
	assert.Equal(t, first.UserID, userID)
}

func TestResolver_RedeliveryDoesNotRegressTier(t *testing.T) {
	db := newMemDB()
	r := newTestResolver(db, &recordingNotifier{}, &fakeCredentials{})
	ctx := context.Background()
	id := Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"}

	res, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	require.NoError(t, db.Profiles().SetEntitlement(ctx, res.UserID, types.Entitlement{Tier: types.TierPro}, testNow))

	again, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeReused, again.Outcome)
	assert.Equal(t, types.TierPro, db.profile(res.UserID).Entitlement.Tier)
	assert.Len(t, db.mappings, 1)
}

func TestResolver_MissingIdentityWritesNothing(t *testing.T) {
	tests := []struct {
		name    string
		id      Identity
		missing string
	}{
		{"no email", Identity{Name: "Ann", CustomerID: "cus_1"}, "email"},
		{"blank name", Identity{Email: "ann@example.com", Name: "  ", CustomerID: "cus_1"}, "name"},
		{"no customer", Identity{Email: "ann@example.com", Name: "Ann"}, "customer_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newMemDB()
			notifier := &recordingNotifier{}
			r := newTestResolver(db, notifier, &fakeCredentials{})

			_, err := r.Resolve(context.Background(), tt.id)
			require.Error(t, err)
			assert.True(t, types.HasCode(err, types.ErrCodeIdentityMissingData))
			assert.True(t, types.IsPermanent(err))

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Details["missing"], tt.missing)

			assert.Empty(t, db.users)
			assert.Empty(t, db.mappings)
			assert.Empty(t, db.profiles)
			assert.Zero(t, notifier.count())
		})
	}
}

func TestResolver_NotifierFailureIsNotFatal(t *testing.T) {
	db := newMemDB()
	notifier := &recordingNotifier{err: errors.New("queue unavailable")}
	r := newTestResolver(db, notifier, &fakeCredentials{})

	res, err := r.Resolve(context.Background(), Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCreated, res.Outcome)
	assert.Contains(t, db.mappings, "cus_1")
}

func TestResolver_LostCreateRaceReusesWinner(t *testing.T) {
	db := newMemDB()
	notifier := &recordingNotifier{}
	r := newTestResolver(db, notifier, &fakeCredentials{})

	// Another delivery inserted the user between our lookup and insert.
	racing := &racingUsers{memUsers: db.Users(), winner: &types.User{ID: "winner", Email: "ann@example.com", Name: "Ann"}}
	r.users = racing

	res, err := r.Resolve(context.Background(), Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "winner", res.UserID)
	assert.Equal(t, types.OutcomeReused, res.Outcome)
	assert.Zero(t, notifier.count())
}

type racingUsers struct {
	*memUsers
	winner *types.User
}

func (r *racingUsers) CreateIfAbsent(ctx context.Context, u *types.User) (*types.User, types.Outcome, error) {
	if _, _, err := r.memUsers.CreateIfAbsent(ctx, r.winner); err != nil {
		return nil, "", err
	}
	return r.memUsers.CreateIfAbsent(ctx, u)
}

func TestResolver_LookupErrorPropagates(t *testing.T) {
	db := newMemDB()
	r := newTestResolver(db, &recordingNotifier{}, &fakeCredentials{})
	r.users = failingUsers{}

	_, err := r.Resolve(context.Background(), Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	assert.False(t, types.IsPermanent(err))
	assert.Empty(t, db.mappings)
}

type failingUsers struct{}

func (failingUsers) GetByEmail(context.Context, string) (*types.User, error) {
	return nil, types.NewAppError(types.ErrCodeInternalDB, "db down", nil)
}

func (failingUsers) CreateIfAbsent(context.Context, *types.User) (*types.User, types.Outcome, error) {
	return nil, "", types.NewAppError(types.ErrCodeInternalDB, "db down", nil)
}

func TestResolver_CredentialFailure(t *testing.T) {
	db := newMemDB()
	r := newTestResolver(db, &recordingNotifier{}, &fakeCredentials{err: errors.New("entropy exhausted")})

	_, err := r.Resolve(context.Background(), Identity{Email: "ann@example.com", Name: "Ann", CustomerID: "cus_1"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "temporary password"))
	assert.Empty(t, db.users)
}
