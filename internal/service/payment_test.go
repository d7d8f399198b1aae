package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/metrics"
	"github.com/qstarmachine/billing/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	store       *memStore
	gateway     *payment.MockGateway
	plans       *PlanService
	payments    *PaymentService
	entitlement *EntitlementService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	store := newMemStore()
	require.NoError(t, store.planStore().Create(context.Background(), &domain.SubscriptionPlan{
		ID: "P1", Name: "Starter", Price: 100, DurationDays: 30, TokenCreditsCost: 500, IsActive: true,
	}))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, reg)
	plans := NewPlanService(store.planStore())
	gw := payment.NewMockGateway()

	return &paymentFixture{
		store:   store,
		gateway: gw,
		plans:   plans,
		payments: NewPaymentService(store.paymentStore(), store.entitlementStore(), plans, gw, PaymentConfig{
			CallbackURL:     "http://localhost:4001/api/payment/callback",
			PriceMultiplier: 10,
		}, m),
		entitlement: NewEntitlementService(store.entitlementStore(), plans, unitRegistry(), m),
	}
}

func TestPurchaseThenSpend(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.TrackID)
	assert.NotEmpty(t, res.RedirectURL)
	assert.Equal(t, []int64{1000}, f.gateway.Requests)

	p := f.store.onlyPayment()
	require.NotNil(t, p)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.False(t, p.IsSuccessful)
	assert.Equal(t, res.TrackID, *p.TrackID)
	assert.Equal(t, int64(500), p.Credits)
	assert.Equal(t, 30, p.DurationDays)

	out, err := f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, out.Outcome)
	assert.Equal(t, "userA", out.UserID)

	snap, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)
	require.Len(t, snap.Subscriptions, 1)
	assert.Equal(t, "P1", snap.Subscriptions[0].SubscriptionPlanID)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), snap.Subscriptions[0].ExpiresAt, time.Minute)
	assert.Equal(t, 1, f.store.paymentTxCount(res.TrackID))

	allowed, err := f.entitlement.CanSpend(ctx, "userA", costing(400))
	require.NoError(t, err)
	assert.True(t, allowed.CanSpend)

	denied, err := f.entitlement.CanSpend(ctx, "userA", costing(600))
	require.NoError(t, err)
	assert.False(t, denied.CanSpend)
}

func TestInitiatePaymentUnknownPlan(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.payments.InitiatePayment(context.Background(), "userA", "nope")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	assert.Equal(t, 0, f.store.paymentCount())
	assert.Empty(t, f.gateway.Requests)
}

func TestInitiatePaymentInactivePlanStillPurchasable(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.planStore().Create(ctx, &domain.SubscriptionPlan{
		ID: "OLD", Name: "Legacy", Price: 50, DurationDays: 7, IsActive: false,
	}))

	res, err := f.payments.InitiatePayment(ctx, "userA", "OLD")
	require.NoError(t, err)
	assert.Equal(t, "OLD", res.Plan.ID)
}

func TestInitiatePaymentGatewayFailureKeepsPendingRow(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"rejected", &payment.GatewayError{Op: "request", Result: 102, Message: "merchant not found"}, domain.KindGateway},
		{"timeout", &payment.GatewayError{Op: "request", Timeout: true, Err: context.DeadlineExceeded}, domain.KindGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t)
			f.gateway.RequestErr = tt.err

			_, err := f.payments.InitiatePayment(context.Background(), "userA", "P1")
			assert.True(t, domain.IsKind(err, tt.kind), "got %v", err)

			p := f.store.onlyPayment()
			require.NotNil(t, p)
			assert.Equal(t, domain.PaymentPending, p.Status)
			assert.Nil(t, p.TrackID)
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)

	first, err := f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	snapAfterFirst, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)

	second, err := f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	snapAfterSecond, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSettled, first.Outcome)
	assert.Equal(t, domain.OutcomeAlreadySettled, second.Outcome)
	assert.True(t, second.Outcome.Success())
	assert.Equal(t, 1, f.store.paymentTxCount(res.TrackID))
	assert.Equal(t, *snapAfterFirst.Balance, *snapAfterSecond.Balance)
	assert.Equal(t, snapAfterFirst.Subscriptions, snapAfterSecond.Subscriptions)
	assert.Equal(t, 1, f.gateway.VerifyCalls())
}

func TestReconcileVerificationFailureLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name  string
		setup func(g *payment.MockGateway, trackID string)
	}{
		{"not paid", func(g *payment.MockGateway, trackID string) {
			g.SetVerify(trackID, &payment.Verification{Result: 202, Message: "not paid"})
		}},
		{"gateway error", func(g *payment.MockGateway, _ string) {
			g.VerifyErr = errors.New("connection reset")
		}},
		{"timeout", func(g *payment.MockGateway, _ string) {
			g.VerifyErr = &payment.GatewayError{Op: "verify", Timeout: true}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t)
			ctx := context.Background()
			res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
			require.NoError(t, err)
			tt.setup(f.gateway, res.TrackID)

			out, err := f.payments.Reconcile(ctx, res.TrackID, true)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeVerificationFailed, out.Outcome)
			assert.False(t, out.Outcome.Success())

			snap, err := f.store.entitlementStore().Snapshot(ctx, "userA")
			require.NoError(t, err)
			assert.Nil(t, snap.Balance)
			assert.Empty(t, snap.Subscriptions)
			assert.Equal(t, domain.PaymentPending, f.store.onlyPayment().Status)
		})
	}
}

func TestReconcileClaimedFailure(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)

	f.gateway.SetVerify(res.TrackID, &payment.Verification{Result: 202, Message: "not paid"})

	out, err := f.payments.Reconcile(ctx, res.TrackID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Outcome)
	assert.Equal(t, 1, f.gateway.VerifyCalls())
	assert.Equal(t, domain.PaymentFailed, f.store.onlyPayment().Status)

	// A later success claim for a failed payment does not settle it.
	out, err = f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Outcome)
	assert.Equal(t, 0, f.store.paymentTxCount(res.TrackID))
}

func TestReconcileFailureClaimForPaidPaymentSettles(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)

	// A forged success=0 callback cannot fail a payment the gateway reports paid.
	out, err := f.payments.Reconcile(ctx, res.TrackID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, out.Outcome)
	assert.Equal(t, domain.PaymentSettled, f.store.onlyPayment().Status)

	out, err = f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadySettled, out.Outcome)
	assert.Equal(t, 1, f.store.paymentTxCount(res.TrackID))
}

func TestReconcileUnverifiedFailureClaimLeavesPaymentPending(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)
	f.gateway.VerifyErr = &payment.GatewayError{Op: "verify", Timeout: true}

	out, err := f.payments.Reconcile(ctx, res.TrackID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Outcome)
	assert.Equal(t, domain.PaymentPending, f.store.onlyPayment().Status)

	f.gateway.VerifyErr = nil
	out, err = f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, out.Outcome)
}

func TestReconcileGrantsPurchasedTerms(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)

	credits := int64(50000)
	days := 365
	_, err = f.plans.Update(ctx, "P1", &domain.UpdatePlanRequest{TokenCreditsCost: &credits, DurationDays: &days})
	require.NoError(t, err)

	out, err := f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, out.Outcome)

	snap, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)
	assert.Equal(t, int64(500), *snap.Balance)
	require.Len(t, snap.Subscriptions, 1)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), snap.Subscriptions[0].ExpiresAt, time.Minute)
}

func TestReconcileSettlesAfterPlanDeleted(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)
	require.NoError(t, f.plans.Delete(ctx, "P1"))

	out, err := f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, out.Outcome)

	snap, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)
	assert.Equal(t, int64(500), *snap.Balance)
}

func TestReconcileLegacyPaymentFallsBackToPlan(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	trackID := "legacy-1"
	require.NoError(t, f.store.paymentStore().Create(ctx, &domain.Payment{
		ID: "pay-legacy", UserID: "userA", TrackID: &trackID, Status: domain.PaymentPending,
		Gateway: "mock", SubscriptionPlanID: "P1", CreatedAt: time.Now(),
	}))

	out, err := f.payments.Reconcile(ctx, trackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, out.Outcome)

	snap, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)
	assert.Equal(t, int64(500), *snap.Balance)
}

func TestReconcileVerifiedButFailedLocallyIsLoggedForManualFix(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)
	f.store.settleErr = domain.ErrConflict("payment already failed")

	out, err := f.payments.Reconcile(ctx, res.TrackID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Outcome)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "manual reconciliation required")
	assert.Contains(t, buf.String(), "credits=500")
}

func TestReconcileUnknownTrackID(t *testing.T) {
	f := newPaymentFixture(t)

	for _, trackID := range []string{"unknown-trackId", ""} {
		out, err := f.payments.Reconcile(context.Background(), trackID, true)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeNotFound, out.Outcome)
	}
	assert.Equal(t, 0, f.gateway.VerifyCalls())
	assert.Equal(t, 0, f.store.paymentCount())
}

func TestConcurrentReconcileCreditsOnce(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)

	const callers = 10
	outcomes := make([]domain.ReconcileOutcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.payments.Reconcile(ctx, res.TrackID, true)
			if assert.NoError(t, err) {
				outcomes[i] = out.Outcome
			}
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, o := range outcomes {
		assert.True(t, o.Success(), "outcome %s", o)
		if o == domain.OutcomeSettled {
			settled++
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, f.store.paymentTxCount(res.TrackID))

	snap, err := f.store.entitlementStore().Snapshot(ctx, "userA")
	require.NoError(t, err)
	assert.Equal(t, int64(500), *snap.Balance)
}

func TestReconcileSettlementFailureIsReported(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)
	f.store.settleErr = errStore

	_, err = f.payments.Reconcile(ctx, res.TrackID, true)
	assert.True(t, domain.IsKind(err, domain.KindInternal))
	assert.ErrorIs(t, err, errStore)
}

func TestPaymentAdminOperations(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	res, err := f.payments.InitiatePayment(ctx, "userA", "P1")
	require.NoError(t, err)

	list, err := f.payments.ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	gw := "Manual"
	updated, err := f.payments.UpdatePayment(ctx, res.PaymentID, &domain.UpdatePaymentRequest{Gateway: &gw})
	require.NoError(t, err)
	assert.Equal(t, "Manual", updated.Gateway)
	assert.Equal(t, domain.PaymentPending, updated.Status)
	assert.False(t, updated.IsSuccessful)

	require.NoError(t, f.payments.DeletePayment(ctx, res.PaymentID))
	_, err = f.payments.GetPayment(ctx, res.PaymentID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	assert.True(t, domain.IsKind(f.payments.DeletePayment(ctx, res.PaymentID), domain.KindNotFound))
}
