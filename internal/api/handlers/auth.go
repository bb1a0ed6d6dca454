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

// AuthService is the account surface of the auth package.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*types.User, *types.Session, error)
	CompleteRecovery(ctx context.Context, token, password string) (*types.User, *types.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// RecoveryRequest is the body of POST /auth/recovery. Token is the value
// from the recovery link emailed after checkout.
type RecoveryRequest struct {
	Token    string `json:"token" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=128"`
}

// AuthResponse carries the bearer token for subsequent requests.
type AuthResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthHandler serves login, logout and recovery completion.
type AuthHandler struct {
	auth      AuthService
	validator *core.Validator
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth AuthService, v *core.Validator, l *slog.Logger) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuthHandler{auth: auth, validator: v, logger: l}
}

// RegisterRoutes mounts the unauthenticated routes:
//   - POST /auth/login
//   - POST /auth/recovery
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/recovery", h.HandleRecovery)
}

// RegisterProtectedRoutes mounts POST /auth/logout, which needs the actor
// set by the auth middleware.
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
}

// HandleLogin handles POST /auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.InfoContext(r.Context(), "login failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, newAuthResponse(user, session))
}

// HandleRecovery handles POST /auth/recovery. Success sets the account
// password and signs the user in.
func (h *AuthHandler) HandleRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, session, err := h.auth.CompleteRecovery(r.Context(), req.Token, req.Password)
	if err != nil {
		h.logger.InfoContext(r.Context(), "account recovery failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, newAuthResponse(user, session))
}

// HandleLogout handles POST /auth/logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.SessionID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	if err := h.auth.Logout(r.Context(), actor.SessionID); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to invalidate session",
			"user_id", actor.UserID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func newAuthResponse(user *types.User, session *types.Session) AuthResponse {
	return AuthResponse{
		Token:     session.ID,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: session.ExpiresAt,
	}
}
