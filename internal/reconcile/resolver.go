package reconcile

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"coachkit/internal/types"
)

// UserStore is the account storage the resolver needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	CreateIfAbsent(ctx context.Context, user *types.User) (*types.User, types.Outcome, error)
}

// MappingStore binds customer ids to users.
type MappingStore interface {
	Upsert(ctx context.Context, customerID, userID string) (types.Outcome, error)
}

// ProfileStore creates the profile row without touching an existing tier.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID, displayName string, now time.Time) error
}

// CredentialIssuer produces the credentials of a pipeline-created account.
type CredentialIssuer interface {
	// TemporaryPasswordHash hashes a random password nobody is ever told.
	TemporaryPasswordHash() (string, error)
	// NewRecoveryToken returns a plaintext token and the hash to store.
	NewRecoveryToken() (token, hash string, err error)
}

// RecoveryNotifier delivers the recovery link of a newly created account.
type RecoveryNotifier interface {
	NotifyRecovery(ctx context.Context, msg types.RecoveryEmailMessage) error
}

// Identity is what a checkout tells us about the paying customer.
type Identity struct {
	Email      string
	Name       string
	CustomerID string
}

// Resolution is the user an identity resolved to.
type Resolution struct {
	UserID  string
	Outcome types.Outcome
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// AppURL is the public origin recovery links point at.
	AppURL      string
	RecoveryTTL time.Duration
	Clock       types.Clock
	Logger      *slog.Logger
}

// Resolver finds or creates the user behind a checkout and binds the
// provider customer to it.
type Resolver struct {
	users       UserStore
	mappings    MappingStore
	profiles    ProfileStore
	credentials CredentialIssuer
	notifier    RecoveryNotifier
	appURL      string
	recoveryTTL time.Duration
	clock       types.Clock
	logger      *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(users UserStore, mappings MappingStore, profiles ProfileStore, credentials CredentialIssuer, notifier RecoveryNotifier, cfg ResolverConfig) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RecoveryTTL <= 0 {
		cfg.RecoveryTTL = 72 * time.Hour
	}
	return &Resolver{
		users:       users,
		mappings:    mappings,
		profiles:    profiles,
		credentials: credentials,
		notifier:    notifier,
		appURL:      strings.TrimRight(cfg.AppURL, "/"),
		recoveryTTL: cfg.RecoveryTTL,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

// Resolve maps the identity to a user, creating the account on first
// contact. Incomplete identities fail with ErrCodeIdentityMissingData
// before anything is written. Every write is an upsert, so a redelivered
// checkout resolves to the same user with OutcomeReused.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (Resolution, error) {
	email := strings.TrimSpace(id.Email)
	name := strings.TrimSpace(id.Name)
	customerID := strings.TrimSpace(id.CustomerID)

	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if name == "" {
		missing = append(missing, "name")
	}
	if customerID == "" {
		missing = append(missing, "customer_id")
	}
	if len(missing) > 0 {
		return Resolution{}, types.NewAppErrorWithDetails(
			types.ErrCodeIdentityMissingData,
			"checkout is missing identity data",
			nil,
			map[string]any{"missing": missing},
		)
	}

	user, outcome, err := r.findOrCreate(ctx, email, name)
	if err != nil {
		return Resolution{}, err
	}

	if _, err := r.mappings.Upsert(ctx, customerID, user.ID); err != nil {
		return Resolution{}, err
	}
	if err := r.profiles.EnsureProfile(ctx, user.ID, name, r.clock.Now()); err != nil {
		return Resolution{}, err
	}

	r.logger.InfoContext(ctx, "customer identity resolved",
		"customer_id", customerID,
		"user_id", user.ID,
		"outcome", string(outcome),
	)
	return Resolution{UserID: user.ID, Outcome: outcome}, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, email, name string) (*types.User, types.Outcome, error) {
	existing, err := r.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, types.OutcomeReused, nil
	}
	if !types.HasCode(err, types.ErrCodeNotFoundUser) {
		return nil, "", err
	}

	passwordHash, err := r.credentials.TemporaryPasswordHash()
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate temporary password", err)
	}
	token, tokenHash, err := r.credentials.NewRecoveryToken()
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate recovery token", err)
	}

	now := r.clock.Now()
	expiresAt := now.Add(r.recoveryTTL)
	candidate := &types.User{
		ID:                uuid.NewString(),
		Email:             email,
		Name:              name,
		PasswordHash:      passwordHash,
		RecoveryTokenHash: tokenHash,
		RecoveryExpiresAt: &expiresAt,
		CreatedAt:         now,
	}

	user, outcome, err := r.users.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, "", err
	}
	if outcome == types.OutcomeCreated {
		r.sendRecovery(ctx, user, token, expiresAt, now)
	}
	return user, outcome, nil
}

// sendRecovery logs delivery failures instead of failing the resolution.
func (r *Resolver) sendRecovery(ctx context.Context, user *types.User, token string, expiresAt, now time.Time) {
	msg := types.RecoveryEmailMessage{
		UserID:      user.ID,
		Email:       user.Email,
		Name:        user.Name,
		RecoveryURL: r.appURL + "/account/recover?token=" + url.QueryEscape(token),
		ExpiresAt:   expiresAt,
		RequestedAt: now,
	}
	if err := r.notifier.NotifyRecovery(ctx, msg); err != nil {
		r.logger.WarnContext(ctx, "failed to send recovery email",
			"user_id", user.ID,
			"error", err.Error(),
		)
	}
}
