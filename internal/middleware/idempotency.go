package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/qstarmachine/billing/internal/cache"
	"github.com/qstarmachine/billing/internal/contextkeys"
	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/handler"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	IdempotencyTTL       = 24 * time.Hour

	idempotencyLockTTL = 30 * time.Second
	maxIdempotencyKey  = 255
)

// ResponseStore persists replayable responses. cache.Redis satisfies it.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type cachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated user. Requests without the header pass
// through; a request whose key is still in flight gets 409. Server errors are
// not stored so the client can retry them.
func Idempotency(store ResponseStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				handler.Error(w, domain.ErrBadRequest("Idempotency-Key is too long"))
				return
			}

			uid, _ := contextkeys.UserIDFrom(r.Context())
			cacheKey := "idempotency:" + uid + ":" + r.URL.Path + ":" + key
			lockKey := cacheKey + ":lock"
			ctx := r.Context()
			log := slog.With("idempotency_key", key, "user_id", uid)

			if cached, err := store.Get(ctx, cacheKey); err == nil {
				var resp cachedResponse
				if err := json.Unmarshal(cached, &resp); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Replayed", "true")
					w.WriteHeader(resp.StatusCode)
					w.Write(resp.Body)
					return
				}
			} else if !errors.Is(err, cache.ErrMiss) {
				// Store unavailable: serve without replay protection.
				log.Warn("idempotency lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			locked, err := store.SetNX(ctx, lockKey, []byte("1"), idempotencyLockTTL)
			if err != nil {
				log.Warn("idempotency lock failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !locked {
				handler.Error(w, domain.ErrConflict("a request with this Idempotency-Key is in progress"))
				return
			}
			defer func() {
				if err := store.Del(context.WithoutCancel(ctx), lockKey); err != nil {
					log.Warn("idempotency unlock failed", "error", err)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(cachedResponse{StatusCode: rec.statusCode, Body: rec.body.Bytes()})
			if err != nil {
				return
			}
			if err := store.Set(context.WithoutCancel(ctx), cacheKey, payload, IdempotencyTTL); err != nil {
				log.Warn("idempotency store failed", "error", err)
			}
		})
	}
}
