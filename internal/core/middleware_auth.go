package core

import (
	"log/slog"
	"net/http"
	"strings"

	"coachkit/internal/types"
)

// AuthMiddleware requires a bearer session token, resolves it through the
// Authenticator and stores the Actor in the request context. Failures are
// 401 with a distinct code: auth_token_missing, auth_token_invalid or
// auth_session_expired. Without an Authenticator every request is rejected.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			s.Logger.ErrorContext(r.Context(), "protected route mounted without an authenticator",
				slog.String("path", r.URL.Path))
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication is unavailable")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken returns the token from "Bearer <token>", matching the
// scheme case-insensitively per RFC 7235.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch code := types.CodeOf(err); code {
	case types.ErrCodeAuthSessionExpired, types.ErrCodeAuthTokenExpired:
		s.Logger.WarnContext(r.Context(), "authentication failed: session expired",
			slog.String("path", r.URL.Path))
		s.writeAuthError(w, r, types.ErrCodeAuthSessionExpired, "Session has expired")
	case types.ErrCodeAuthTokenInvalid:
		s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
			slog.String("path", r.URL.Path))
		s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
	default:
		// Store failures keep their own status instead of a 401.
		s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		Error(w, r, err)
	}
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error:     message,
		Code:      string(code),
		RequestID: types.GetRequestID(r.Context()),
	})
}
