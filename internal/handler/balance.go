package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/pricing"
)

// EntitlementService is the part of service.EntitlementService the handler uses.
type EntitlementService interface {
	CanSpend(ctx context.Context, userID string, op pricing.Operation) (*domain.EligibilityResult, error)
	Balance(ctx context.Context, userID string) (*domain.BalanceView, error)
	Transactions(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error)
}

// BalanceHandler exposes the caller's entitlement.
type BalanceHandler struct {
	svc EntitlementService
}

func NewBalanceHandler(svc EntitlementService) *BalanceHandler {
	return &BalanceHandler{svc: svc}
}

// Get handles GET /api/balance.
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	view, err := h.svc.Balance(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Check handles POST /api/balance/check with a pricing.Operation body.
func (h *BalanceHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var op pricing.Operation
	if err := DecodeAndValidate(w, r, &op); err != nil {
		Error(w, err)
		return
	}

	res, err := h.svc.CanSpend(r.Context(), id, op)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Transactions handles GET /api/balance/transactions?limit=N.
func (h *BalanceHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, domain.ErrBadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	txs, err := h.svc.Transactions(r.Context(), id, limit)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, txs)
}
