package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Gateway defines the interface for payment providers.
type Gateway interface {
	// Name identifies the provider on stored payments.
	Name() string
	// RequestSession opens a payment session for amount and returns where to send the user.
	RequestSession(ctx context.Context, amount int64, callbackURL string) (*Session, error)
	// Verify asks the provider whether the payment behind trackID was paid.
	Verify(ctx context.Context, trackID string) (*Verification, error)
}

// Session is an opened payment session.
type Session struct {
	TrackID     string `json:"trackId"`
	RedirectURL string `json:"redirectUrl"`
}

// Verification is the provider's answer for a track id.
type Verification struct {
	Success bool
	// AlreadyVerified is set when the provider reports a previous successful verify.
	AlreadyVerified bool
	Result          int
	Message         string
	Amount          int64
	RefNumber       string
}

// Paid reports whether the provider confirms the payment.
func (v *Verification) Paid() bool {
	return v != nil && (v.Success || v.AlreadyVerified)
}

// ErrTimeout matches gateway errors caused by a timeout.
var ErrTimeout = errors.New("payment gateway timeout")

// GatewayError describes a failed call to a provider.
type GatewayError struct {
	Op      string // "request" or "verify"
	Result  int    // provider result code, 0 if none
	Message string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("payment gateway %s failed", e.Op)
	if e.Result != 0 {
		msg += fmt.Sprintf(" (result %d)", e.Result)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// MockGateway is an in-process gateway for development and tests.
// Sessions get sequential track ids; every track id verifies as paid unless
// marked otherwise with SetVerify.
type MockGateway struct {
	mu         sync.Mutex
	next       int
	verify     map[string]*Verification
	RequestErr error
	VerifyErr  error
	BaseURL    string

	Requests      []int64
	Verifications []string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		next:    1000,
		verify:  make(map[string]*Verification),
		BaseURL: "https://example.com/pay",
	}
}

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) RequestSession(ctx context.Context, amount int64, callbackURL string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, amount)
	if g.RequestErr != nil {
		return nil, g.RequestErr
	}
	g.next++
	trackID := strconv.Itoa(g.next)
	return &Session{TrackID: trackID, RedirectURL: g.BaseURL + "/" + trackID}, nil
}

func (g *MockGateway) Verify(ctx context.Context, trackID string) (*Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Verifications = append(g.Verifications, trackID)
	if g.VerifyErr != nil {
		return nil, g.VerifyErr
	}
	if v, ok := g.verify[trackID]; ok {
		return v, nil
	}
	return &Verification{Success: true, Result: ResultSuccess, Message: "success"}, nil
}

// SetVerify overrides the verification answer for a track id.
func (g *MockGateway) SetVerify(trackID string, v *Verification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verify[trackID] = v
}

// VerifyCalls returns how many verifications were requested.
func (g *MockGateway) VerifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Verifications)
}
