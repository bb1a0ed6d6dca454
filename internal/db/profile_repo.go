package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"coachkit/internal/types"
)

// ProfileRepository stores the user-facing profile and its entitlement.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a ProfileRepository.
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// EnsureProfile creates the profile with the free tier, or refreshes only
// the display name when it exists. The entitlement columns are never
// touched here so a redelivered checkout cannot regress a paid tier.
func (r *ProfileRepository) EnsureProfile(ctx context.Context, userID, displayName string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO profiles (user_id, display_name, tier, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at`,
		userID,
		displayName,
		string(types.TierFree),
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert profile", err)
	}
	return nil
}

// SetEntitlement overwrites the tier and expiry (last write wins). A missing
// profile row is created so the write never silently disappears.
//
// Revoking an already revoked profile keeps the original revocation time,
// so a redelivered cancellation does not move tier_expires_at forward.
func (r *ProfileRepository) SetEntitlement(ctx context.Context, userID string, ent types.Entitlement, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO profiles (user_id, tier, tier_expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET tier = EXCLUDED.tier,
		     tier_expires_at = CASE
		         WHEN profiles.tier = 'free' AND EXCLUDED.tier = 'free' AND profiles.tier_expires_at IS NOT NULL
		         THEN profiles.tier_expires_at
		         ELSE EXCLUDED.tier_expires_at
		     END,
		     updated_at = EXCLUDED.updated_at`,
		userID,
		string(ent.Tier),
		ent.ExpiresAt,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update entitlement", err)
	}
	return nil
}

// GetByUserID returns ErrCodeNotFoundProfile when the user has no profile.
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*types.Profile, error) {
	var (
		p    types.Profile
		tier string
	)
	err := r.db.QueryRow(ctx,
		`SELECT user_id, display_name, tier, tier_expires_at, updated_at FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &tier, &p.Entitlement.ExpiresAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load profile", err)
	}
	p.Entitlement.Tier = types.Tier(tier)
	return &p, nil
}
