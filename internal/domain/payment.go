package domain

import "time"

// PaymentStatus is the settlement state of a payment. Settled and failed are terminal.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSettled PaymentStatus = "settled"
	PaymentFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSettled || s == PaymentFailed
}

// Payment records one settlement attempt against a gateway.
type Payment struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"userId"`
	TrackID            *string       `json:"trackId"` // nil until the gateway opens a session
	IsSuccessful       bool          `json:"isSuccessful"`
	Status             PaymentStatus `json:"status"`
	Gateway            string        `json:"gateway"`
	SubscriptionPlanID string        `json:"subscriptionPlanId"`
	Amount             int64         `json:"amount"`
	// Credits and DurationDays are the plan terms at purchase time; settlement grants these.
	Credits       int64      `json:"credits"`
	DurationDays  int        `json:"durationDays"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Duration is the subscription window the payment buys.
func (p *Payment) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// InitiatePaymentRequest is the validated input for opening a payment session.
type InitiatePaymentRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

// InitiatePaymentResult is returned once the gateway has opened a session.
type InitiatePaymentResult struct {
	TrackID     string            `json:"trackId"`
	RedirectURL string            `json:"redirectUrl"`
	PaymentID   string            `json:"paymentId"`
	Plan        *SubscriptionPlan `json:"subscription,omitempty"`
}

// UpdatePaymentRequest is the admin edit of a payment record. Status and
// isSuccessful follow settlement and are not editable.
type UpdatePaymentRequest struct {
	Gateway *string `json:"gateway" validate:"omitempty,min=1,max=50"`
}

// ReconcileOutcome is the result of processing a gateway callback.
type ReconcileOutcome string

const (
	OutcomeSettled            ReconcileOutcome = "settled"
	OutcomeAlreadySettled     ReconcileOutcome = "already_settled"
	OutcomeFailed             ReconcileOutcome = "failed"
	OutcomeVerificationFailed ReconcileOutcome = "verification_failed"
	OutcomeNotFound           ReconcileOutcome = "not_found"
)

// Success reports whether the payment is settled after reconciliation.
func (o ReconcileOutcome) Success() bool {
	return o == OutcomeSettled || o == OutcomeAlreadySettled
}

// ReconcileResult carries the outcome of a callback for the redirect.
type ReconcileResult struct {
	Outcome   ReconcileOutcome `json:"outcome"`
	TrackID   string           `json:"trackId"`
	PaymentID string           `json:"paymentId,omitempty"`
	UserID    string           `json:"userId,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// SettleParams describes the entitlement effects of one verified payment.
type SettleParams struct {
	TrackID       string
	UserID        string
	PlanID        string
	Credits       int64
	ActivatedAt   time.Time
	ExpiresAt     time.Time
	TransactionID string
}

// AdminStats holds back-office counters.
type AdminStats struct {
	Users               int `json:"users"`
	Plans               int `json:"plans"`
	Payments            int `json:"payments"`
	SettledPayments     int `json:"settledPayments"`
	ActiveSubscriptions int `json:"activeSubscriptions"`
}
