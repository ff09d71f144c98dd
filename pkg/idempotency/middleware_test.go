package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-placement/pkg/logging"
)

type memKeeper struct {
	mu      sync.Mutex
	entries map[string][]byte
	err     error
}

func newMemKeeper() *memKeeper {
	return &memKeeper{entries: map[string][]byte{}}
}

func (k *memKeeper) Begin(_ context.Context, key string) (State, []byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return 0, nil, k.err
	}
	v, ok := k.entries[key]
	switch {
	case !ok:
		k.entries[key] = nil
		return Started, nil, nil
	case v == nil:
		return InFlight, nil, nil
	default:
		return Done, v, nil
	}
}

func (k *memKeeper) Complete(_ context.Context, key string, result []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[key] = result
	return nil
}

func (k *memKeeper) Abandon(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, key)
	return nil
}

func post(h http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(Header, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysFirstResponse(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"o-1"}`))
	})
	h := Middleware(logging.Discard(), newMemKeeper())(next)

	first := post(h, "k1")
	second := post(h, "k1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddlewareInFlightConflict(t *testing.T) {
	keeper := newMemKeeper()
	_, _, err := keeper.Begin(context.Background(), "k1")
	require.NoError(t, err)

	h := Middleware(logging.Discard(), keeper)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for an in-flight key")
	}))
	assert.Equal(t, http.StatusConflict, post(h, "k1").Code)
}

func TestMiddlewareFailedAttemptCanRetry(t *testing.T) {
	status := http.StatusConflict
	calls := 0
	h := Middleware(logging.Discard(), newMemKeeper())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	assert.Equal(t, http.StatusConflict, post(h, "k1").Code)
	status = http.StatusCreated
	assert.Equal(t, http.StatusCreated, post(h, "k1").Code)
	assert.Equal(t, 2, calls)
}

func TestMiddlewarePassThrough(t *testing.T) {
	keeper := newMemKeeper()
	keeper.err = errors.New("redis down")
	calls := 0
	h := Middleware(logging.Discard(), keeper)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	post(h, "")
	post(h, "")
	post(h, "k1")
	assert.Equal(t, 3, calls)
}
