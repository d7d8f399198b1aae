package domain

import "time"

// SubscriptionPlan defines the terms a settled payment converts into.
type SubscriptionPlan struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Price            int64     `json:"price"`            // in the plan currency (Toman)
	DurationDays     int       `json:"duration"`         // subscription window length
	TokenCreditsCost int64     `json:"tokenCreditsCost"` // credits granted on settlement
	IsActive         bool      `json:"isActive"`         // offered for purchase
	Description      string    `json:"description,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Duration returns the subscription window length.
func (p *SubscriptionPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// CreatePlanRequest is the validated input for creating a plan.
type CreatePlanRequest struct {
	Name             string `json:"name" validate:"required,min=1,max=100"`
	Price            int64  `json:"price" validate:"gte=0"`
	DurationDays     int    `json:"duration" validate:"required,gt=0"`
	TokenCreditsCost int64  `json:"tokenCreditsCost" validate:"gte=0"`
	IsActive         *bool  `json:"isActive"`
	Description      string `json:"description" validate:"max=2000"`
}

// UpdatePlanRequest holds optional plan fields; nil fields are left unchanged.
type UpdatePlanRequest struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=100"`
	Price            *int64  `json:"price" validate:"omitempty,gte=0"`
	DurationDays     *int    `json:"duration" validate:"omitempty,gt=0"`
	TokenCreditsCost *int64  `json:"tokenCreditsCost" validate:"omitempty,gte=0"`
	IsActive         *bool   `json:"isActive"`
	Description      *string `json:"description" validate:"omitempty,max=2000"`
}

// Apply copies the set fields of req onto p.
func (req *UpdatePlanRequest) Apply(p *SubscriptionPlan) {
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.DurationDays != nil {
		p.DurationDays = *req.DurationDays
	}
	if req.TokenCreditsCost != nil {
		p.TokenCreditsCost = *req.TokenCreditsCost
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
}
