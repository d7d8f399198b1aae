package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/qstarmachine/billing/internal/domain"
)

// memStore is an in-memory stand-in for the Postgres repositories. Settle
// follows the same pending->settled compare-and-set as the SQL version.
type memStore struct {
	mu           sync.Mutex
	users        map[string]*domain.User
	plans        map[string]*domain.SubscriptionPlan
	payments     map[string]*domain.Payment
	balances     map[string]int64
	subs         map[string]domain.ActiveSubscription
	transactions []*domain.Transaction

	planLookups int
	snapshotErr error
	settleErr   error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*domain.User),
		plans:    make(map[string]*domain.SubscriptionPlan),
		payments: make(map[string]*domain.Payment),
		balances: make(map[string]int64),
		subs:     make(map[string]domain.ActiveSubscription),
	}
}

func (m *memStore) userStore() UserStore {
	return memUsers{m}
}

func (m *memStore) planStore() PlanStore {
	return memPlans{m}
}

func (m *memStore) paymentStore() PaymentStore {
	return memPayments{m}
}

func (m *memStore) entitlementStore() EntitlementStore {
	return memEntitlements{m}
}


func (m *memStore) setBalance(userID string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = v
}

func (m *memStore) setSubscription(userID string, s domain.ActiveSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[userID] = s
}

func (m *memStore) paymentTxCount(trackID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tx := range m.transactions {
		if tx.TrackID != nil && *tx.TrackID == trackID {
			n++
		}
	}
	return n
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memStore) onlyPayment() *domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		cp := *p
		return &cp
	}
	return nil
}

type memUsers struct{ m *memStore }

func (s memUsers) Create(_ context.Context, u *domain.User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.users {
		if existing.Email == u.Email {
			return domain.ErrConflict("email already registered")
		}
	}
	cp := *u
	s.m.users[u.ID] = &cp
	return nil
}

func (s memUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if u, ok := s.m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s memUsers) Exists(ctx context.Context, email string) (bool, error) {
	u, err := s.FindByEmail(ctx, email)
	return u != nil, err
}

func (s memUsers) ListAll(_ context.Context) ([]*domain.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.User
	for _, u := range s.m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s memUsers) Update(_ context.Context, u *domain.User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.users[u.ID]; !ok {
		return domain.ErrNotFound("user not found")
	}
	cp := *u
	s.m.users[u.ID] = &cp
	return nil
}

func (s memUsers) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.users, id)
	return nil
}

func (s memUsers) Count(_ context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.m.users), nil
}

type memPlans struct{ m *memStore }

func (s memPlans) Create(_ context.Context, p *domain.SubscriptionPlan) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *p
	s.m.plans[p.ID] = &cp
	return nil
}

func (s memPlans) FindByID(_ context.Context, id string) (*domain.SubscriptionPlan, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.planLookups++
	if p, ok := s.m.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s memPlans) List(_ context.Context, activeOnly bool) ([]*domain.SubscriptionPlan, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.SubscriptionPlan
	for _, p := range s.m.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (s memPlans) Update(_ context.Context, p *domain.SubscriptionPlan) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.plans[p.ID]; !ok {
		return domain.ErrNotFound("subscription not found")
	}
	cp := *p
	s.m.plans[p.ID] = &cp
	return nil
}

func (s memPlans) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.plans[id]; !ok {
		return domain.ErrNotFound("subscription not found")
	}
	delete(s.m.plans, id)
	return nil
}

func (s memPlans) Count(_ context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.m.plans), nil
}

type memPayments struct{ m *memStore }

func (s memPayments) Create(_ context.Context, p *domain.Payment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *p
	s.m.payments[p.ID] = &cp
	return nil
}

func (s memPayments) SetTrackID(_ context.Context, id, trackID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.payments[id]
	if !ok || p.TrackID != nil {
		return domain.ErrConflict("payment already has a track id")
	}
	p.TrackID = &trackID
	return nil
}

func (s memPayments) byTrackID(trackID string) *domain.Payment {
	for _, p := range s.m.payments {
		if p.TrackID != nil && *p.TrackID == trackID {
			return p
		}
	}
	return nil
}

func (s memPayments) FindByTrackID(_ context.Context, trackID string) (*domain.Payment, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p := s.byTrackID(trackID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s memPayments) FindByID(_ context.Context, id string) (*domain.Payment, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s memPayments) MarkFailed(_ context.Context, trackID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p := s.byTrackID(trackID)
	if p == nil || p.Status != domain.PaymentPending {
		return false, nil
	}
	p.Status = domain.PaymentFailed
	p.IsSuccessful = false
	return true, nil
}

func (s memPayments) ListPending(_ context.Context, from, to time.Time, limit int) ([]*domain.Payment, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range s.m.payments {
		if p.Status != domain.PaymentPending || p.TrackID == nil {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memPayments) MarkChecked(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.payments[id]; ok && p.Status == domain.PaymentPending {
		p.LastCheckedAt = &at
	}
	return nil
}

func (s memPayments) List(_ context.Context) ([]*domain.Payment, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range s.m.payments {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s memPayments) Update(_ context.Context, p *domain.Payment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	existing, ok := s.m.payments[p.ID]
	if !ok {
		return domain.ErrNotFound("payment not found")
	}
	existing.Gateway = p.Gateway
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (s memPayments) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.payments[id]; !ok {
		return domain.ErrNotFound("payment not found")
	}
	delete(s.m.payments, id)
	return nil
}

func (s memPayments) Counts(_ context.Context) (int, int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	settled := 0
	for _, p := range s.m.payments {
		if p.Status == domain.PaymentSettled {
			settled++
		}
	}
	return len(s.m.payments), settled, nil
}

type memEntitlements struct{ m *memStore }

func (s memEntitlements) Snapshot(_ context.Context, userID string) (*domain.EntitlementSnapshot, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.snapshotErr != nil {
		return nil, s.m.snapshotErr
	}
	snap := &domain.EntitlementSnapshot{UserID: userID, ReadAt: time.Now()}
	if b, ok := s.m.balances[userID]; ok {
		snap.Balance = &b
	}
	if sub, ok := s.m.subs[userID]; ok {
		snap.Subscriptions = []domain.ActiveSubscription{sub}
	}
	return snap, nil
}

func (s memEntitlements) Settle(_ context.Context, p domain.SettleParams) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.settleErr != nil {
		return s.m.settleErr
	}

	pay := memPayments(s).byTrackID(p.TrackID)
	switch {
	case pay == nil:
		return domain.ErrNotFound("payment not found")
	case pay.Status == domain.PaymentSettled:
		return domain.ErrAlreadySettled("payment already settled")
	case pay.Status == domain.PaymentFailed:
		return domain.ErrConflict("payment already failed")
	}
	pay.Status = domain.PaymentSettled
	pay.IsSuccessful = true

	s.m.subs[p.UserID] = domain.ActiveSubscription{
		SubscriptionPlanID: p.PlanID,
		ActivatedAt:        p.ActivatedAt,
		ExpiresAt:          p.ExpiresAt,
	}
	trackID := p.TrackID
	s.m.transactions = append(s.m.transactions, &domain.Transaction{
		ID:        p.TransactionID,
		UserID:    p.UserID,
		TokenType: domain.TokenTypeCredits,
		Context:   domain.TxContextPayment,
		RawAmount: p.Credits,
		TrackID:   &trackID,
		CreatedAt: p.ActivatedAt,
	})
	s.m.balances[p.UserID] += p.Credits
	return nil
}

func (s memEntitlements) Transactions(_ context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Transaction
	for i := len(s.m.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.m.transactions[i].UserID == userID {
			out = append(out, s.m.transactions[i])
		}
	}
	return out, nil
}

func (s memEntitlements) CountActive(_ context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n := 0
	for _, sub := range s.m.subs {
		if sub.ActiveAt(time.Now()) {
			n++
		}
	}
	return n, nil
}

var errStore = errors.New("store unavailable")
