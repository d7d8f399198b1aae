package service

import (
	"context"
	"time"

	"github.com/qstarmachine/billing/internal/domain"
)

// Store interfaces are satisfied by the repository package. Services depend
// on these so tests can substitute in-memory fakes.

type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Exists(ctx context.Context, email string) (bool, error)
	ListAll(ctx context.Context) ([]*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PlanStore interface {
	Create(ctx context.Context, p *domain.SubscriptionPlan) error
	FindByID(ctx context.Context, id string) (*domain.SubscriptionPlan, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.SubscriptionPlan, error)
	Update(ctx context.Context, p *domain.SubscriptionPlan) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PaymentStore interface {
	Create(ctx context.Context, p *domain.Payment) error
	SetTrackID(ctx context.Context, id, trackID string) error
	FindByTrackID(ctx context.Context, trackID string) (*domain.Payment, error)
	FindByID(ctx context.Context, id string) (*domain.Payment, error)
	MarkFailed(ctx context.Context, trackID string) (bool, error)
	// ListPending returns pending payments with a track id created in [from, to).
	// Never-checked payments come first, then the least recently checked.
	ListPending(ctx context.Context, from, to time.Time, limit int) ([]*domain.Payment, error)
	MarkChecked(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (total, settled int, err error)
}

// EntitlementStore owns balances, the transaction ledger and subscription windows.
type EntitlementStore interface {
	Snapshot(ctx context.Context, userID string) (*domain.EntitlementSnapshot, error)
	Settle(ctx context.Context, p domain.SettleParams) error
	Transactions(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error)
	CountActive(ctx context.Context) (int, error)
}
