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

// EntitlementRepository owns balances, the transaction ledger, and active
// subscription windows.
type EntitlementRepository struct {
	db *pgxpool.Pool
}

func NewEntitlementRepository(db *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// Snapshot reads a user's balance and subscription window in a single
// statement so both values come from the same point in time.
func (r *EntitlementRepository) Snapshot(ctx context.Context, userID string) (*domain.EntitlementSnapshot, error) {
	query := `
		SELECT b.token_credits, s.subscription_plan_id, s.activated_at, s.expires_at, NOW()
		FROM (SELECT $1::text AS user_id) u
		LEFT JOIN balances b ON b.user_id = u.user_id
		LEFT JOIN active_subscriptions s ON s.user_id = u.user_id
	`
	var (
		balance     *int64
		planID      *string
		activatedAt *time.Time
		expiresAt   *time.Time
		readAt      time.Time
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(&balance, &planID, &activatedAt, &expiresAt, &readAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read entitlement: %w", err)
	}

	snap := &domain.EntitlementSnapshot{UserID: userID, Balance: balance, ReadAt: readAt}
	if planID != nil && activatedAt != nil && expiresAt != nil {
		snap.Subscriptions = []domain.ActiveSubscription{{
			SubscriptionPlanID: *planID,
			ActivatedAt:        *activatedAt,
			ExpiresAt:          *expiresAt,
		}}
	}
	return snap, nil
}

// Settle applies a verified payment exactly once. In one transaction it moves
// the payment from pending to settled, replaces the user's subscription window,
// appends the credit transaction, and updates the balance aggregate.
// A payment that is already settled yields an already_settled error and no effects.
func (r *EntitlementRepository) Settle(ctx context.Context, p domain.SettleParams) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var paymentID string
	err = tx.QueryRow(ctx, `
		UPDATE payments SET status = 'settled', is_successful = TRUE, updated_at = NOW()
		WHERE track_id = $1 AND status = 'pending'
		RETURNING id
	`, p.TrackID).Scan(&paymentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.terminalStateError(ctx, tx, p.TrackID)
	}
	if err != nil {
		return fmt.Errorf("failed to transition payment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO active_subscriptions (user_id, subscription_plan_id, track_id, activated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET subscription_plan_id = EXCLUDED.subscription_plan_id,
		    track_id = EXCLUDED.track_id,
		    activated_at = EXCLUDED.activated_at,
		    expires_at = EXCLUDED.expires_at
	`, p.UserID, p.PlanID, p.TrackID, p.ActivatedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to set active subscription: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, token_type, context, raw_amount, track_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.TransactionID, p.UserID, domain.TokenTypeCredits, domain.TxContextPayment, p.Credits, p.TrackID, p.ActivatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadySettled("payment already credited")
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (user_id, token_credits, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET token_credits = balances.token_credits + EXCLUDED.token_credits, updated_at = NOW()
	`, p.UserID, p.Credits)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

func (r *EntitlementRepository) terminalStateError(ctx context.Context, tx pgx.Tx, trackID string) error {
	var status domain.PaymentStatus
	err := tx.QueryRow(ctx, `SELECT status FROM payments WHERE track_id = $1`, trackID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound("payment not found")
	}
	if err != nil {
		return fmt.Errorf("failed to read payment status: %w", err)
	}
	if status == domain.PaymentSettled {
		return domain.ErrAlreadySettled("payment already settled")
	}
	return domain.ErrConflict(fmt.Sprintf("payment is %s", status))
}

// Transactions returns the newest ledger entries for a user.
func (r *EntitlementRepository) Transactions(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, token_type, context, raw_amount, track_id, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenType, &t.Context, &t.RawAmount, &t.TrackID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// CountActive returns the number of users whose window is open now.
func (r *EntitlementRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM active_subscriptions WHERE expires_at > NOW()`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active subscriptions: %w", err)
	}
	return n, nil
}
