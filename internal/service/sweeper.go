package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/qstarmachine/billing/internal/domain"
)

// SweeperConfig bounds which pending payments are re-checked.
type SweeperConfig struct {
	Interval time.Duration
	// MinAge leaves fresh sessions to their own callback.
	MinAge time.Duration
	// MaxAge stops re-checking sessions the gateway has long expired.
	MaxAge time.Duration
	Batch  int
}

// PendingSweeper re-verifies pending payments whose callback never arrived.
// Settlement goes through Reconcile, so the gateway's verify answer is the
// only thing that can settle a payment here.
type PendingSweeper struct {
	payments PaymentStore
	svc      *PaymentService
	cfg      SweeperConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewPendingSweeper(payments PaymentStore, svc *PaymentService, cfg SweeperConfig) *PendingSweeper {
	if cfg.MinAge <= 0 {
		cfg.MinAge = 15 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &PendingSweeper{
		payments: payments,
		svc:      svc,
		cfg:      cfg,
		log:      slog.With("service", "sweeper"),
		now:      time.Now,
	}
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *PendingSweeper) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many payments it settled.
func (s *PendingSweeper) Sweep(ctx context.Context) int {
	now := s.now()
	pending, err := s.payments.ListPending(ctx, now.Add(-s.cfg.MaxAge), now.Add(-s.cfg.MinAge), s.cfg.Batch)
	if err != nil {
		s.log.Error("failed to list pending payments", "error", err)
		return 0
	}

	settled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if p.TrackID == nil {
			continue
		}
		res, err := s.svc.Reconcile(ctx, *p.TrackID, true)
		if err := s.payments.MarkChecked(ctx, p.ID, now); err != nil {
			s.log.Warn("failed to record sweep check", "payment_id", p.ID, "error", err)
		}
		if err != nil {
			s.log.Error("failed to reconcile pending payment", "payment_id", p.ID, "error", err)
			continue
		}
		if res.Outcome == domain.OutcomeSettled {
			settled++
		}
	}
	if len(pending) > 0 {
		s.log.Info("pending payments swept", "checked", len(pending), "settled", settled)
	}
	return settled
}
