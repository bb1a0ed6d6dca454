package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"coachkit/internal/types"
)

// SessionRepository manages browser sessions.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		s.ID, s.UserID, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetValid returns the session if it exists and has not expired at now.
func (r *SessionRepository) GetValid(ctx context.Context, id string, now time.Time) (*types.Session, error) {
	var s types.Session
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1 AND expires_at > $2`,
		id, now,
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session expired or not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load session", err)
	}
	return &s, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}

// DeleteByUser removes every session for a user and returns how many were removed.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete user sessions", err)
	}
	return tag.RowsAffected(), nil
}
