package service

import (
	"context"

	"github.com/qstarmachine/billing/internal/domain"
	"golang.org/x/sync/errgroup"
)

// StatsService aggregates back-office counters.
type StatsService struct {
	users        UserStore
	plans        PlanStore
	payments     PaymentStore
	entitlements EntitlementStore
}

func NewStatsService(users UserStore, plans PlanStore, payments PaymentStore, entitlements EntitlementStore) *StatsService {
	return &StatsService{users: users, plans: plans, payments: payments, entitlements: entitlements}
}

// Stats runs the counting queries concurrently.
func (s *StatsService) Stats(ctx context.Context) (*domain.AdminStats, error) {
	var stats domain.AdminStats
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		stats.Users, err = s.users.Count(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Plans, err = s.plans.Count(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Payments, stats.SettledPayments, err = s.payments.Counts(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.ActiveSubscriptions, err = s.entitlements.CountActive(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, domain.ErrInternal("failed to collect stats", err)
	}
	return &stats, nil
}
