package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/metrics"
	"github.com/qstarmachine/billing/pkg/payment"
)

// PaymentConfig holds the gateway-facing settings of PaymentService.
type PaymentConfig struct {
	CallbackURL string
	// PriceMultiplier converts a plan price into the gateway's amount unit.
	PriceMultiplier int64
}

// PaymentService opens gateway sessions and settles verified payments.
type PaymentService struct {
	payments     PaymentStore
	entitlements EntitlementStore
	plans        *PlanService
	gateway      payment.Gateway
	cfg          PaymentConfig
	metrics      *metrics.Metrics
	log          *slog.Logger
	now          func() time.Time
}

func NewPaymentService(
	payments PaymentStore,
	entitlements EntitlementStore,
	plans *PlanService,
	gateway payment.Gateway,
	cfg PaymentConfig,
	m *metrics.Metrics,
) *PaymentService {
	if cfg.PriceMultiplier <= 0 {
		cfg.PriceMultiplier = 1
	}
	return &PaymentService{
		payments:     payments,
		entitlements: entitlements,
		plans:        plans,
		gateway:      gateway,
		cfg:          cfg,
		metrics:      m,
		log:          slog.With("service", "payment", "gateway", gateway.Name()),
		now:          time.Now,
	}
}

// InitiatePayment creates a pending payment for planID and opens a gateway
// session for it. An unknown plan fails before anything is written. If the
// gateway call fails the pending row is kept and the error is returned.
func (s *PaymentService) InitiatePayment(ctx context.Context, userID, planID string) (*domain.InitiatePaymentResult, error) {
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		s.log.Warn("payment initiated for inactive plan", "user_id", userID, "plan_id", plan.ID)
	}

	now := s.now()
	p := &domain.Payment{
		ID:                 domain.NewID(),
		UserID:             userID,
		Status:             domain.PaymentPending,
		Gateway:            s.gateway.Name(),
		SubscriptionPlanID: plan.ID,
		Amount:             plan.Price * s.cfg.PriceMultiplier,
		Credits:            plan.TokenCreditsCost,
		DurationDays:       plan.DurationDays,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, domain.ErrInternal("failed to create payment", err)
	}

	start := time.Now()
	sess, err := s.gateway.RequestSession(ctx, p.Amount, s.cfg.CallbackURL)
	s.metrics.ObserveGatewayCall("request", start, err)
	if err != nil {
		s.log.Warn("gateway session request failed", "payment_id", p.ID, "user_id", userID, "error", err)
		return nil, gatewayAppError("failed to open payment session", err)
	}

	if err := s.payments.SetTrackID(ctx, p.ID, sess.TrackID); err != nil {
		s.log.Error("failed to attach track id", "payment_id", p.ID, "track_id", sess.TrackID, "error", err)
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrInternal("failed to save payment session", err)
	}

	s.log.Info("payment session opened",
		"payment_id", p.ID, "user_id", userID, "plan_id", plan.ID, "track_id", sess.TrackID, "amount", p.Amount)

	return &domain.InitiatePaymentResult{
		TrackID:     sess.TrackID,
		RedirectURL: sess.RedirectURL,
		PaymentID:   p.ID,
		Plan:        plan,
	}, nil
}

// Reconcile processes a gateway callback for trackID. claimedSuccess comes
// from the callback and is never trusted on its own: the gateway's verify
// answer decides both settlement and failure. Entitlements are applied at
// most once per payment no matter how many callbacks arrive or how they
// interleave. The returned error is reserved for store failures; every other
// result is reported as an outcome.
func (s *PaymentService) Reconcile(ctx context.Context, trackID string, claimedSuccess bool) (*domain.ReconcileResult, error) {
	res, err := s.reconcile(ctx, trackID, claimedSuccess)
	if err != nil {
		s.metrics.ObserveReconcile("error")
		return nil, err
	}
	s.metrics.ObserveReconcile(string(res.Outcome))
	return res, nil
}

func (s *PaymentService) reconcile(ctx context.Context, trackID string, claimedSuccess bool) (*domain.ReconcileResult, error) {
	res := &domain.ReconcileResult{TrackID: trackID}
	log := s.log.With("track_id", trackID)

	if trackID == "" {
		res.Outcome = domain.OutcomeNotFound
		res.Message = "payment not found"
		return res, nil
	}

	p, err := s.payments.FindByTrackID(ctx, trackID)
	if err != nil {
		return nil, domain.ErrInternal("failed to find payment", err)
	}
	if p == nil {
		log.Warn("callback for unknown track id")
		res.Outcome = domain.OutcomeNotFound
		res.Message = "payment not found"
		return res, nil
	}
	res.PaymentID = p.ID
	res.UserID = p.UserID
	log = log.With("payment_id", p.ID, "user_id", p.UserID)

	switch p.Status {
	case domain.PaymentSettled:
		log.Info("duplicate callback for settled payment")
		res.Outcome = domain.OutcomeAlreadySettled
		return res, nil
	case domain.PaymentFailed:
		res.Outcome = domain.OutcomeFailed
		res.Message = "payment failed"
		return res, nil
	}

	start := time.Now()
	v, verifyErr := s.gateway.Verify(ctx, trackID)
	s.metrics.ObserveGatewayCall("verify", start, verifyErr)
	paid := verifyErr == nil && v.Paid()

	switch {
	case paid && !claimedSuccess:
		log.Warn("failure callback for a payment the gateway reports paid; settling")
	case paid:
	case !claimedSuccess:
		res.Outcome = domain.OutcomeFailed
		res.Message = "payment failed"
		if verifyErr != nil {
			// Without the gateway's answer a failure claim cannot end the payment.
			log.Warn("failure callback could not be verified; payment left pending", "error", verifyErr)
			return res, nil
		}
		if _, err := s.payments.MarkFailed(ctx, trackID); err != nil {
			return nil, domain.ErrInternal("failed to mark payment failed", err)
		}
		log.Info("payment failed at gateway", "result", v.Result)
		return res, nil
	case verifyErr != nil:
		log.Warn("payment verification errored", "error", verifyErr, "timeout", errors.Is(verifyErr, payment.ErrTimeout))
		res.Outcome = domain.OutcomeVerificationFailed
		res.Message = "payment verification failed"
		return res, nil
	default:
		log.Warn("gateway did not confirm payment", "result", v.Result, "message", v.Message)
		res.Outcome = domain.OutcomeVerificationFailed
		res.Message = "payment verification failed"
		return res, nil
	}

	credits, duration, err := s.purchasedTerms(ctx, p)
	if err != nil {
		log.Error("verified payment cannot be settled; manual reconciliation required",
			"plan_id", p.SubscriptionPlanID, "error", err)
		return nil, err
	}

	now := s.now()
	err = s.entitlements.Settle(ctx, domain.SettleParams{
		TrackID:       trackID,
		UserID:        p.UserID,
		PlanID:        p.SubscriptionPlanID,
		Credits:       credits,
		ActivatedAt:   now,
		ExpiresAt:     now.Add(duration),
		TransactionID: domain.NewID(),
	})
	switch {
	case err == nil:
	case domain.IsKind(err, domain.KindAlreadySettled):
		log.Info("payment settled by a concurrent callback")
		res.Outcome = domain.OutcomeAlreadySettled
		return res, nil
	case domain.IsKind(err, domain.KindConflict):
		log.Error("verified payment is no longer pending; manual reconciliation required",
			"plan_id", p.SubscriptionPlanID, "credits", credits, "error", err)
		res.Outcome = domain.OutcomeFailed
		res.Message = "payment failed"
		return res, nil
	default:
		log.Error("settlement failed; manual reconciliation required",
			"plan_id", p.SubscriptionPlanID, "credits", credits, "error", err)
		return nil, domain.ErrInternal("failed to settle payment", err)
	}

	s.metrics.AddCredits(credits)
	log.Info("payment settled", "plan_id", p.SubscriptionPlanID, "credits", credits)
	res.Outcome = domain.OutcomeSettled
	return res, nil
}

// purchasedTerms returns the credits and window frozen on the payment at
// purchase. Rows written before the terms were stored fall back to the plan.
func (s *PaymentService) purchasedTerms(ctx context.Context, p *domain.Payment) (int64, time.Duration, error) {
	if p.DurationDays > 0 {
		return p.Credits, p.Duration(), nil
	}
	plan, err := s.plans.Get(ctx, p.SubscriptionPlanID)
	if err != nil {
		return 0, 0, err
	}
	return plan.TokenCreditsCost, plan.Duration(), nil
}

// ListPayments returns all payments, newest first.
func (s *PaymentService) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	payments, err := s.payments.List(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to list payments", err)
	}
	if payments == nil {
		payments = []*domain.Payment{}
	}
	return payments, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := s.payments.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find payment", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payment not found")
	}
	return p, nil
}

// UpdatePayment edits the bookkeeping fields of a payment. Settlement state
// is owned by Reconcile and cannot be changed here.
func (s *PaymentService) UpdatePayment(ctx context.Context, id string, req *domain.UpdatePaymentRequest) (*domain.Payment, error) {
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Gateway != nil {
		p.Gateway = *req.Gateway
	}
	p.UpdatedAt = s.now()

	if err := s.payments.Update(ctx, p); err != nil {
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrInternal("failed to update payment", err)
	}
	return p, nil
}

func (s *PaymentService) DeletePayment(ctx context.Context, id string) error {
	if err := s.payments.Delete(ctx, id); err != nil {
		if _, ok := domain.AsAppError(err); ok {
			return err
		}
		return domain.ErrInternal("failed to delete payment", err)
	}
	s.log.Info("payment deleted", "payment_id", id)
	return nil
}

func gatewayAppError(msg string, err error) *domain.AppError {
	if errors.Is(err, payment.ErrTimeout) {
		return domain.ErrGatewayTimeout(msg, err)
	}
	return domain.ErrGateway(msg, err)
}
