package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	Users         *UserRepository
	Sessions      *SessionRepository
	Mappings      *CustomerMappingRepository
	Subscriptions *SubscriptionRepository
	Orders        *OrderRepository
	Profiles      *ProfileRepository
}

// NewRepos binds every repository to db.
func NewRepos(db DBTX) *Repos {
	return &Repos{
		Users:         NewUserRepository(db),
		Sessions:      NewSessionRepository(db),
		Mappings:      NewCustomerMappingRepository(db),
		Subscriptions: NewSubscriptionRepository(db),
		Orders:        NewOrderRepository(db),
		Profiles:      NewProfileRepository(db),
	}
}

// TxManager runs callbacks inside a single database transaction.
type TxManager struct {
	db Beginner
}

// NewTxManager creates a TxManager.
func NewTxManager(db Beginner) *TxManager {
	return &TxManager{db: db}
}

// RunInTx commits when fn returns nil and rolls back otherwise.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, repos *Repos) error) error {
	return pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
		return fn(ctx, NewRepos(tx))
	})
}
