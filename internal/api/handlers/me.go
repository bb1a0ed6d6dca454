package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"coachkit/internal/core"
	"coachkit/internal/types"
)

// ProfileReader loads a user's profile.
type ProfileReader interface {
	GetByUserID(ctx context.Context, userID string) (*types.Profile, error)
}

// EntitlementResponse is the body of GET /me/entitlement. EffectiveTier
// already accounts for an expiry in the past.
type EntitlementResponse struct {
	Tier          types.Tier `json:"tier"`
	ExpiresAt     *time.Time `json:"expires_at"`
	EffectiveTier types.Tier `json:"effective_tier"`
}

// MeHandler serves the signed-in user's own billing state.
type MeHandler struct {
	profiles ProfileReader
	clock    types.Clock
	logger   *slog.Logger
}

// NewMeHandler creates a MeHandler.
func NewMeHandler(profiles ProfileReader, clock types.Clock, l *slog.Logger) *MeHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &MeHandler{profiles: profiles, clock: clock, logger: l}
}

// RegisterRoutes mounts GET /me/entitlement behind the auth middleware.
func (h *MeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me/entitlement", h.GetEntitlement)
}

// GetEntitlement handles GET /me/entitlement. A user whose profile has not
// been written yet is reported as free.
func (h *MeHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.UserID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var ent types.Entitlement
	profile, err := h.profiles.GetByUserID(r.Context(), actor.UserID)
	switch {
	case err == nil:
		ent = profile.Entitlement
	case types.HasCode(err, types.ErrCodeNotFoundProfile):
		ent = types.Entitlement{Tier: types.TierFree}
	default:
		h.logger.ErrorContext(r.Context(), "failed to load profile",
			"user_id", actor.UserID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	tier := ent.Tier
	if tier == "" {
		tier = types.TierFree
	}
	core.JSON(w, r, http.StatusOK, EntitlementResponse{
		Tier:          tier,
		ExpiresAt:     ent.ExpiresAt,
		EffectiveTier: ent.Effective(h.clock.Now()),
	})
}
