package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/qstarmachine/billing/internal/domain"
)

const (
	planCacheSize = 256
	planCacheTTL  = time.Minute
)

// PlanService manages subscription plans. Lookups by id are cached briefly
// since every balance read and payment resolves a plan.
type PlanService struct {
	repo  PlanStore
	cache *expirable.LRU[string, *domain.SubscriptionPlan]
	log   *slog.Logger
}

func NewPlanService(repo PlanStore) *PlanService {
	return &PlanService{
		repo:  repo,
		cache: expirable.NewLRU[string, *domain.SubscriptionPlan](planCacheSize, nil, planCacheTTL),
		log:   slog.With("service", "plan"),
	}
}

// Get returns a plan by id, active or not.
func (s *PlanService) Get(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find subscription", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("subscription not found")
	}
	s.cache.Add(id, p)
	return p, nil
}

// List returns all plans, or only purchasable ones when activeOnly is set.
func (s *PlanService) List(ctx context.Context, activeOnly bool) ([]*domain.SubscriptionPlan, error) {
	plans, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, domain.ErrInternal("failed to list subscriptions", err)
	}
	if plans == nil {
		plans = []*domain.SubscriptionPlan{}
	}
	return plans, nil
}

func (s *PlanService) Create(ctx context.Context, req *domain.CreatePlanRequest) (*domain.SubscriptionPlan, error) {
	now := time.Now()
	p := &domain.SubscriptionPlan{
		ID:               domain.NewID(),
		Name:             req.Name,
		Price:            req.Price,
		DurationDays:     req.DurationDays,
		TokenCreditsCost: req.TokenCreditsCost,
		IsActive:         true,
		Description:      req.Description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, domain.ErrInternal("failed to create subscription", err)
	}
	s.log.Info("plan created", "plan_id", p.ID, "name", p.Name, "price", p.Price)
	return p, nil
}

func (s *PlanService) Update(ctx context.Context, id string, req *domain.UpdatePlanRequest) (*domain.SubscriptionPlan, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p := *current
	req.Apply(&p)
	p.UpdatedAt = time.Now()

	defer s.cache.Remove(id)
	if err := s.repo.Update(ctx, &p); err != nil {
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrInternal("failed to update subscription", err)
	}
	return &p, nil
}

func (s *PlanService) Delete(ctx context.Context, id string) error {
	defer s.cache.Remove(id)
	if err := s.repo.Delete(ctx, id); err != nil {
		if _, ok := domain.AsAppError(err); ok {
			return err
		}
		return domain.ErrInternal("failed to delete subscription", err)
	}
	s.log.Info("plan deleted", "plan_id", id)
	return nil
}
