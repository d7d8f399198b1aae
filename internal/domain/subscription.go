package domain

import "time"

// ActiveSubscription is the subscription window tracked on a user.
type ActiveSubscription struct {
	SubscriptionPlanID string    `json:"subscriptionPlanId"`
	ActivatedAt        time.Time `json:"activatedAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// ActiveAt reports whether the window is still open at t.
func (s ActiveSubscription) ActiveAt(t time.Time) bool {
	return s.ExpiresAt.After(t)
}

// LatestActive returns the last window in subs that is open at t.
func LatestActive(subs []ActiveSubscription, t time.Time) (ActiveSubscription, bool) {
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].ActiveAt(t) {
			return subs[i], true
		}
	}
	return ActiveSubscription{}, false
}

// HasActiveSubscription reports whether any window in subs is open at t.
func HasActiveSubscription(subs []ActiveSubscription, t time.Time) bool {
	_, ok := LatestActive(subs, t)
	return ok
}

// EntitlementSnapshot is a user's balance and subscription windows read at one point in time.
type EntitlementSnapshot struct {
	UserID string
	// Balance is nil when the user has no balance row.
	Balance       *int64
	Subscriptions []ActiveSubscription
	ReadAt        time.Time
}

// EligibilityResult is the outcome of a spend check.
type EligibilityResult struct {
	CanSpend              bool    `json:"canSpend"`
	Balance               int64   `json:"balance"`
	TokenCost             float64 `json:"tokenCost"`
	HasActiveSubscription bool    `json:"hasActiveSubscription"`
}

// BalanceView is the caller-facing summary of a user's entitlement.
type BalanceView struct {
	Balance             int64                `json:"balance"`
	HasSubscription     bool                 `json:"hasSubscription"`
	SubscriptionDetails *SubscriptionDetails `json:"subscriptionDetails,omitempty"`
}

// SubscriptionDetails describes the current window and the plan behind it.
type SubscriptionDetails struct {
	Subscription *SubscriptionPlan `json:"subscription,omitempty"`
	ActivatedAt  time.Time         `json:"activatedAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// Ledger transaction token types and contexts.
const (
	TokenTypeCredits = "credits"

	TxContextPayment = "payment"
	TxContextAdmin   = "admin"
)

// Transaction is an append-only ledger entry. Balances are its aggregate.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenType string    `json:"tokenType"`
	Context   string    `json:"context"`
	RawAmount int64     `json:"rawAmount"`
	TrackID   *string   `json:"trackId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
