package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qstarmachine/billing/internal/cache"
	"github.com/qstarmachine/billing/internal/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memResponseStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMemResponseStore() *memResponseStore {
	return &memResponseStore{data: make(map[string][]byte)}
}

func (s *memResponseStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (s *memResponseStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memResponseStore) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	return true, nil
}

func (s *memResponseStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"trackId":"T1"}`))
	})
}

func idempotentRequest(user, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/new", strings.NewReader(`{"subscriptionId":"P1"}`))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req.WithContext(contextkeys.WithUser(req.Context(), user, "", "user"))
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	calls := 0
	h := Idempotency(newMemResponseStore())(countingHandler(&calls, http.StatusOK))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest("u1", "k1"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest("u1", "k1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	calls := 0
	h := Idempotency(newMemResponseStore())(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("u1", "k1"))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("u2", "k1"))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	calls := 0
	h := Idempotency(newMemResponseStore())(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("u1", ""))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("u1", ""))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	calls := 0
	h := Idempotency(newMemResponseStore())(countingHandler(&calls, http.StatusBadGateway))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("u1", "k1"))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("u1", "k1"))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyInFlightConflict(t *testing.T) {
	store := newMemResponseStore()
	_, err := store.SetNX(context.Background(), "idempotency:u1:/api/payment/new:k1:lock", []byte("1"), time.Minute)
	require.NoError(t, err)

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(store)(countingHandler(&calls, http.StatusOK)).ServeHTTP(rec, idempotentRequest("u1", "k1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotencyStoreDownServesRequest(t *testing.T) {
	store := newMemResponseStore()
	store.getErr = errors.New("connection refused")

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(store)(countingHandler(&calls, http.StatusOK)).ServeHTTP(rec, idempotentRequest("u1", "k1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}
