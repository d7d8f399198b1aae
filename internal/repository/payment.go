package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qstarmachine/billing/internal/domain"
)

// PaymentRepository stores payment attempts.
type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, track_id, is_successful, status, gateway, subscription_plan_id,
	amount, credits, duration_days, last_checked_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.UserID, &p.TrackID, &p.IsSuccessful, &p.Status, &p.Gateway, &p.SubscriptionPlanID,
		&p.Amount, &p.Credits, &p.DurationDays, &p.LastCheckedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a pending payment.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.TrackID, p.IsSuccessful, p.Status, p.Gateway, p.SubscriptionPlanID,
		p.Amount, p.Credits, p.DurationDays, p.LastCheckedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// SetTrackID attaches the gateway-issued track id to a pending payment.
func (r *PaymentRepository) SetTrackID(ctx context.Context, id, trackID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET track_id = $2, updated_at = NOW() WHERE id = $1 AND track_id IS NULL`,
		id, trackID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict("track id already assigned to another payment")
		}
		return fmt.Errorf("failed to set track id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict("payment already has a track id")
	}
	return nil
}

// FindByTrackID returns the payment for a gateway track id, or nil if absent.
func (r *PaymentRepository) FindByTrackID(ctx context.Context, trackID string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE track_id = $1`, trackID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

// FindByID returns the payment or nil if absent.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

// MarkFailed moves a pending payment to failed. It reports false when the
// payment was not pending, leaving terminal states untouched.
func (r *PaymentRepository) MarkFailed(ctx context.Context, trackID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET status = 'failed', is_successful = FALSE, updated_at = NOW()
		WHERE track_id = $1 AND status = 'pending'
	`, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) List(ctx context.Context) ([]*domain.Payment, error) {
	return r.query(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC`)
}

// ListPending returns pending payments with a track id created in [from, to).
// Never-checked payments come first, then the least recently checked, so a
// backlog of unpaid sessions cannot hide newer ones.
func (r *PaymentRepository) ListPending(ctx context.Context, from, to time.Time, limit int) ([]*domain.Payment, error) {
	return r.query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = 'pending' AND track_id IS NOT NULL AND created_at >= $1 AND created_at < $2
		ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC
		LIMIT $3
	`, from, to, limit)
}

// MarkChecked records when a pending payment was last verified by the sweeper.
func (r *PaymentRepository) MarkChecked(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE payments SET last_checked_at = $2 WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark payment checked: %w", err)
	}
	return nil
}

func (r *PaymentRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Update writes the admin-editable fields of a payment. Settlement state is
// only changed by MarkFailed and EntitlementRepository.Settle.
func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET gateway = $2, updated_at = $3 WHERE id = $1`,
		p.ID, p.Gateway, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("payment not found")
	}
	return nil
}

func (r *PaymentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("payment not found")
	}
	return nil
}

// Counts returns the total and settled payment counts.
func (r *PaymentRepository) Counts(ctx context.Context) (total, settled int, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'settled') FROM payments`,
	).Scan(&total, &settled)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return total, settled, nil
}
