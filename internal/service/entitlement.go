package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/metrics"
	"github.com/qstarmachine/billing/internal/pricing"
)

// EntitlementService answers whether a user may spend tokens and reports
// their balance. It never mutates entitlement state.
type EntitlementService struct {
	store   EntitlementStore
	plans   *PlanService
	pricing *pricing.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewEntitlementService(store EntitlementStore, plans *PlanService, registry *pricing.Registry, m *metrics.Metrics) *EntitlementService {
	return &EntitlementService{
		store:   store,
		plans:   plans,
		pricing: registry,
		metrics: m,
		log:     slog.With("service", "entitlement"),
		now:     time.Now,
	}
}

// CanSpend prices op and checks it against the user's balance and subscription.
// Spending requires a balance row covering the cost and an open subscription window.
func (s *EntitlementService) CanSpend(ctx context.Context, userID string, op pricing.Operation) (*domain.EligibilityResult, error) {
	cost, err := s.pricing.TokenCost(op)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to read entitlement", err)
	}

	at := s.readTime(snap)
	res := &domain.EligibilityResult{
		TokenCost:             cost,
		HasActiveSubscription: domain.HasActiveSubscription(snap.Subscriptions, at),
	}
	if snap.Balance != nil {
		res.Balance = *snap.Balance
	}
	res.CanSpend = snap.Balance != nil &&
		float64(*snap.Balance) >= cost &&
		res.HasActiveSubscription

	s.metrics.ObserveEligibility(res.CanSpend)
	s.log.Debug("spend check",
		"user_id", userID, "model", op.Model, "cost", cost,
		"balance", res.Balance, "subscribed", res.HasActiveSubscription, "allowed", res.CanSpend)
	return res, nil
}

// Balance returns the caller-facing balance and the current subscription window.
func (s *EntitlementService) Balance(ctx context.Context, userID string) (*domain.BalanceView, error) {
	snap, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to read entitlement", err)
	}

	view := &domain.BalanceView{}
	if snap.Balance != nil {
		view.Balance = *snap.Balance
	}

	sub, ok := domain.LatestActive(snap.Subscriptions, s.readTime(snap))
	if !ok {
		return view, nil
	}
	view.HasSubscription = true
	view.SubscriptionDetails = &domain.SubscriptionDetails{
		ActivatedAt: sub.ActivatedAt,
		ExpiresAt:   sub.ExpiresAt,
	}

	plan, err := s.plans.Get(ctx, sub.SubscriptionPlanID)
	switch {
	case err == nil:
		view.SubscriptionDetails.Subscription = plan
	case domain.IsKind(err, domain.KindNotFound):
		// Plan deleted after purchase; the window still counts.
		s.log.Warn("active subscription references missing plan", "user_id", userID, "plan_id", sub.SubscriptionPlanID)
	default:
		return nil, err
	}
	return view, nil
}

// Transactions lists the user's ledger, newest first.
func (s *EntitlementService) Transactions(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txs, err := s.store.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, domain.ErrInternal("failed to list transactions", err)
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	return txs, nil
}

// readTime prefers the store's clock so the subscription check uses the same
// instant the balance was read at.
func (s *EntitlementService) readTime(snap *domain.EntitlementSnapshot) time.Time {
	if !snap.ReadAt.IsZero() {
		return snap.ReadAt
	}
	return s.now()
}
