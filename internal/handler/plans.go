package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/service"
)

// PlansHandler serves the public plan list and the admin plan endpoints.
type PlansHandler struct {
	plans *service.PlanService
}

func NewPlansHandler(plans *service.PlanService) *PlansHandler {
	return &PlansHandler{plans: plans}
}

// List handles GET /api/plans: purchasable plans only.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

// ListAll handles GET /api/subscriptions.
func (h *PlansHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *PlansHandler) list(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	plans, err := h.plans.List(r.Context(), activeOnly)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plans)
}

// Get handles GET /api/subscriptions/{id}.
func (h *PlansHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plan)
}

// Create handles POST /api/subscriptions.
func (h *PlansHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePlanRequest
	if err := DecodeAndValidate(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	plan, err := h.plans.Create(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, plan)
}

// Update handles PUT /api/subscriptions/{id}.
func (h *PlansHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePlanRequest
	if err := DecodeAndValidate(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	plan, err := h.plans.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plan)
}

// Delete handles DELETE /api/subscriptions/{id}.
func (h *PlansHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Subscription deleted successfully"})
}
