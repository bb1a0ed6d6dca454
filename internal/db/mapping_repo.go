package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"coachkit/internal/types"
)

// CustomerMappingRepository binds payment provider customer ids to users.
type CustomerMappingRepository struct {
	db DBTX
}

// NewCustomerMappingRepository creates a CustomerMappingRepository.
func NewCustomerMappingRepository(db DBTX) *CustomerMappingRepository {
	return &CustomerMappingRepository{db: db}
}

// Upsert maps customerID to userID. Keyed on customer_id, so a redelivered
// event rewrites the same row. A soft-deleted mapping is revived.
//
// A user holds at most one active mapping: any other active mapping for
// userID is soft-deleted in the same transaction before the upsert.
func (r *CustomerMappingRepository) Upsert(ctx context.Context, customerID, userID string) (types.Outcome, error) {
	b, ok := r.db.(Beginner)
	if !ok {
		return upsertMapping(ctx, r.db, customerID, userID)
	}

	var outcome types.Outcome
	err := pgx.BeginFunc(ctx, b, func(tx pgx.Tx) error {
		var err error
		outcome, err = upsertMapping(ctx, tx, customerID, userID)
		return err
	})
	if err != nil {
		if types.CodeOf(err) != "" {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to upsert customer mapping", err)
	}
	return outcome, nil
}

func upsertMapping(ctx context.Context, db DBTX, customerID, userID string) (types.Outcome, error) {
	_, err := db.Exec(ctx,
		`UPDATE customer_mappings SET deleted_at = now(), updated_at = now()
		 WHERE user_id = $2 AND customer_id <> $1 AND deleted_at IS NULL`,
		customerID,
		userID,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to retire previous customer mapping", err)
	}

	var inserted bool
	err = db.QueryRow(ctx,
		`INSERT INTO customer_mappings (customer_id, user_id, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 ON CONFLICT (customer_id) DO UPDATE
		 SET user_id = EXCLUDED.user_id, updated_at = now(), deleted_at = NULL
		 RETURNING (xmax = 0)`,
		customerID,
		userID,
	).Scan(&inserted)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to upsert customer mapping", err)
	}
	if inserted {
		return types.OutcomeCreated, nil
	}
	return types.OutcomeReused, nil
}

// UserIDFor resolves an active mapping. A missing or soft-deleted mapping
// returns ErrCodeNotFoundCustomerMapping.
func (r *CustomerMappingRepository) UserIDFor(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM customer_mappings WHERE customer_id = $1 AND deleted_at IS NULL`,
		customerID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppErrorWithDetails(
				types.ErrCodeNotFoundCustomerMapping,
				"no user mapped to customer",
				nil,
				map[string]any{"customer_id": customerID},
			)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve customer mapping", err)
	}
	return userID, nil
}

// CustomerIDForUser returns the user's active customer id, or "" when the
// user has never paid.
func (r *CustomerMappingRepository) CustomerIDForUser(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := r.db.QueryRow(ctx,
		`SELECT customer_id FROM customer_mappings
		 WHERE user_id = $1 AND deleted_at IS NULL`,
		userID,
	).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up customer for user", err)
	}
	return customerID, nil
}

// ListActiveCustomerIDs returns every customer id with an active mapping.
func (r *CustomerMappingRepository) ListActiveCustomerIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT customer_id FROM customer_mappings WHERE deleted_at IS NULL ORDER BY customer_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list customer mappings", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan customer mappings", err)
	}
	return ids, nil
}

// SoftDelete marks the mapping deleted. It reports false when the mapping
// was already deleted or never existed.
func (r *CustomerMappingRepository) SoftDelete(ctx context.Context, customerID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE customer_mappings SET deleted_at = now(), updated_at = now()
		 WHERE customer_id = $1 AND deleted_at IS NULL`,
		customerID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete customer mapping", err)
	}
	return tag.RowsAffected() > 0, nil
}
