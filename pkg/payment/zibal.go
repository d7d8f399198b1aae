package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Zibal result codes.
const (
	ResultSuccess         = 100
	ResultAlreadyVerified = 201
)

const defaultZibalBaseURL = "https://gateway.zibal.ir"

// ZibalConfig configures the Zibal client.
type ZibalConfig struct {
	Merchant string
	BaseURL  string
	Timeout  time.Duration
}

// ZibalGateway talks to the Zibal REST API.
type ZibalGateway struct {
	merchant string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewZibalGateway creates a Zibal client whose calls are bounded by cfg.Timeout.
func NewZibalGateway(cfg ZibalConfig) *ZibalGateway {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultZibalBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ZibalGateway{
		merchant: cfg.Merchant,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.With("service", "ZibalGateway"),
	}
}

func (g *ZibalGateway) Name() string { return "Zibal" }

type zibalRequestBody struct {
	Merchant    string `json:"merchant"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callbackUrl"`
}

type zibalRequestResponse struct {
	TrackID json.Number `json:"trackId"`
	Result  int         `json:"result"`
	Message string      `json:"message"`
}

type zibalVerifyBody struct {
	Merchant string `json:"merchant"`
	TrackID  int64  `json:"trackId"`
}

type zibalVerifyResponse struct {
	Result    int    `json:"result"`
	Message   string `json:"message"`
	Amount    int64  `json:"amount"`
	RefNumber any    `json:"refNumber"`
	Status    int    `json:"status"`
}

// RequestSession calls /v1/request and builds the /start redirect.
func (g *ZibalGateway) RequestSession(ctx context.Context, amount int64, callbackURL string) (*Session, error) {
	body := zibalRequestBody{Merchant: g.merchant, Amount: amount, CallbackURL: callbackURL}
	var resp zibalRequestResponse
	if err := g.post(ctx, "request", "/v1/request", body, &resp); err != nil {
		return nil, err
	}
	if resp.Result != ResultSuccess || resp.TrackID == "" {
		return nil, &GatewayError{Op: "request", Result: resp.Result, Message: resp.Message}
	}

	trackID := resp.TrackID.String()
	g.logger.Info("payment session opened", "track_id", trackID, "amount", amount)
	return &Session{
		TrackID:     trackID,
		RedirectURL: fmt.Sprintf("%s/start/%s", g.baseURL, trackID),
	}, nil
}

// Verify calls /v1/verify. A non-success result is reported in the
// Verification, not as an error; errors mean the provider could not answer.
func (g *ZibalGateway) Verify(ctx context.Context, trackID string) (*Verification, error) {
	id, err := strconv.ParseInt(trackID, 10, 64)
	if err != nil {
		return nil, &GatewayError{Op: "verify", Message: "malformed track id", Err: err}
	}

	var resp zibalVerifyResponse
	if err := g.post(ctx, "verify", "/v1/verify", zibalVerifyBody{Merchant: g.merchant, TrackID: id}, &resp); err != nil {
		return nil, err
	}

	v := &Verification{
		Success:         resp.Result == ResultSuccess,
		AlreadyVerified: resp.Result == ResultAlreadyVerified,
		Result:          resp.Result,
		Message:         resp.Message,
		Amount:          resp.Amount,
	}
	if resp.RefNumber != nil {
		v.RefNumber = fmt.Sprint(resp.RefNumber)
	}
	g.logger.Info("payment verified", "track_id", trackID, "result", resp.Result)
	return v, nil
}

func (g *ZibalGateway) post(ctx context.Context, op, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return &GatewayError{Op: op, Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &GatewayError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	if res.StatusCode >= 300 {
		return &GatewayError{Op: op, Message: fmt.Sprintf("unexpected status %d", res.StatusCode)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &GatewayError{Op: op, Message: "malformed response", Err: err}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
