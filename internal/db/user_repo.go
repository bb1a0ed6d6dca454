package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"coachkit/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository on a pool or transaction.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, name, password_hash, recovery_token_hash, recovery_expires_at,
	created_at, last_login_at`

// scanUser scans one row selected with userColumns.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var recoveryHash *string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&recoveryHash,
		&u.RecoveryExpiresAt,
		&u.CreatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	if recoveryHash != nil {
		u.RecoveryTokenHash = *recoveryHash
	}
	return &u, nil
}

// GetByID returns ErrCodeNotFoundUser when no user has the id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByEmail looks a user up by exact email. It returns ErrCodeNotFoundUser
// when none exists so callers can branch on create-or-reuse.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by email", err)
	}
	return u, nil
}

// GetByRecoveryTokenHash finds the user holding an outstanding recovery
// token. Expiry is checked by the caller.
func (r *UserRepository) GetByRecoveryTokenHash(ctx context.Context, tokenHash string) (*types.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE recovery_token_hash = $1`, tokenHash)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "recovery token is invalid", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by recovery token", err)
	}
	return u, nil
}

// CreateIfAbsent inserts user unless the email is already taken. When a
// concurrent delivery wins the race, the existing row is returned with
// OutcomeReused and the caller's password and recovery token are discarded.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, user *types.User) (*types.User, types.Outcome, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (id, email, name, password_hash, recovery_token_hash, recovery_expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING id`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		nilIfEmpty(user.RecoveryTokenHash),
		user.RecoveryExpiresAt,
		user.CreatedAt,
	).Scan(&id)
	if err == nil {
		return user, types.OutcomeCreated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}

	existing, err := r.GetByEmail(ctx, user.Email)
	if err != nil {
		return nil, "", err
	}
	return existing, types.OutcomeReused, nil
}

// SetRecoveryToken stores a new recovery token hash, replacing any previous one.
func (r *UserRepository) SetRecoveryToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET recovery_token_hash = $1, recovery_expires_at = $2 WHERE id = $3`,
		tokenHash,
		expiresAt,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set recovery token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// CompleteRecovery sets the new password and clears the recovery token. The
// token hash is part of the predicate so a token can be redeemed only once.
func (r *UserRepository) CompleteRecovery(ctx context.Context, userID, tokenHash, passwordHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET password_hash = $1, recovery_token_hash = NULL, recovery_expires_at = NULL
		 WHERE id = $2 AND recovery_token_hash = $3`,
		passwordHash,
		userID,
		tokenHash,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete recovery", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthTokenInvalid, "recovery token already used", nil)
	}
	return nil
}

// UpdateLastLogin stamps last_login_at.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at, userID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last login", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// nilIfEmpty maps "" to SQL NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
