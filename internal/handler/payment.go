package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/qstarmachine/billing/internal/domain"
)

// PaymentService is the part of service.PaymentService the handler uses.
type PaymentService interface {
	InitiatePayment(ctx context.Context, userID, planID string) (*domain.InitiatePaymentResult, error)
	Reconcile(ctx context.Context, trackID string, claimedSuccess bool) (*domain.ReconcileResult, error)
	ListPayments(ctx context.Context) ([]*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, id string, req *domain.UpdatePaymentRequest) (*domain.Payment, error)
	DeletePayment(ctx context.Context, id string) error
}

type PaymentHandler struct {
	svc         PaymentService
	frontendURL string
}

// NewPaymentHandler builds the handler. frontendURL is where callbacks redirect the user.
func NewPaymentHandler(svc PaymentService, frontendURL string) *PaymentHandler {
	return &PaymentHandler{svc: svc, frontendURL: frontendURL}
}

// New handles POST /api/payment/new.
func (h *PaymentHandler) New(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.InitiatePaymentRequest
	if err := DecodeAndValidate(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.InitiatePayment(r.Context(), id, req.SubscriptionID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Callback handles GET /api/payment/callback, the gateway's return URL.
// It always redirects the user back to the frontend with the outcome.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trackID := q.Get("trackId")

	res, err := h.svc.Reconcile(r.Context(), trackID, q.Get("success") == "1")
	if err != nil {
		slog.Error("payment callback failed", "track_id", trackID, "error", err)
		res = &domain.ReconcileResult{TrackID: trackID, Message: "payment could not be processed"}
	}

	http.Redirect(w, r, h.redirectURL(res), http.StatusFound)
}

func (h *PaymentHandler) redirectURL(res *domain.ReconcileResult) string {
	v := url.Values{}
	if res.Outcome.Success() {
		v.Set("Payment_success", "1")
	} else {
		v.Set("Payment_success", "0")
	}
	v.Set("Payment_trackId", res.TrackID)
	if !res.Outcome.Success() {
		msg := res.Message
		if msg == "" {
			msg = "payment was not successful"
		}
		v.Set("error", msg)
	}
	return h.frontendURL + "?" + v.Encode()
}

// List handles GET /api/payment.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.ListPayments(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, payments)
}

// Get handles GET /api/payment/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// Update handles PUT /api/payment/{id}.
func (h *PaymentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePaymentRequest
	if err := DecodeAndValidate(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	p, err := h.svc.UpdatePayment(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/payment/{id}.
func (h *PaymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePayment(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Payment deleted successfully"})
}
