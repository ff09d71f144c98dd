package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	auditmemory "github.com/dmehra2102/order-placement/internal/audit/infrastructure/memory"
	"github.com/dmehra2102/order-placement/internal/catalog"
	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
	inventorydomain "github.com/dmehra2102/order-placement/internal/inventory/domain"
	inventorymemory "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/memory"
	orchestrator "github.com/dmehra2102/order-placement/internal/orchestrator/application"
	orchestratordomain "github.com/dmehra2102/order-placement/internal/orchestrator/domain"
	orderapp "github.com/dmehra2102/order-placement/internal/order/application"
	"github.com/dmehra2102/order-placement/internal/order/domain"
	orderhttp "github.com/dmehra2102/order-placement/internal/order/infrastructure/http"
	ordermemory "github.com/dmehra2102/order-placement/internal/order/infrastructure/memory"
	"github.com/dmehra2102/order-placement/pkg/logging"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logging.Discard()
	ledger := inventoryapp.NewLedger(log, inventorymemory.NewRepository())
	for sku, n := range map[string]int{"A": 5, "B": 2} {
		_, err := ledger.Restock(context.Background(), sku, n)
		require.NoError(t, err)
	}
	cat := catalog.NewStatic().AddCustomer("c1").SetPrice("A", 500).SetPrice("B", 700)
	coord := orchestrator.NewCoordinator(log, ledger,
		orderapp.NewStore(log, ordermemory.NewRepository()),
		auditapp.NewTrail(log, auditmemory.NewRepository()),
		cat, cat,
	)
	srv := httptest.NewServer(orderhttp.NewHandler(log, coord).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func placeOrder(t *testing.T, srv *httptest.Server, body, actor string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/orders", strings.NewReader(body))
	require.NoError(t, err)
	if actor != "" {
		req.Header.Set(orderhttp.ActorHeader, actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPlaceAndGetOrder(t *testing.T) {
	srv := newServer(t)

	resp := placeOrder(t, srv, `{"customer_id":"c1","lines":[{"sku":"A","quantity":2}]}`, "alice")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&placed))
	assert.Equal(t, "Confirmed", placed.Status)

	get, err := http.Get(srv.URL + "/orders/" + placed.OrderID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var view domain.View
	require.NoError(t, json.NewDecoder(get.Body).Decode(&view))
	assert.Equal(t, int64(1000), view.TotalCents)

	inv, err := http.Get(srv.URL + "/inventory/A")
	require.NoError(t, err)
	defer inv.Body.Close()
	var stock struct {
		Available int `json:"available"`
	}
	require.NoError(t, json.NewDecoder(inv.Body).Decode(&stock))
	assert.Equal(t, 3, stock.Available)
}

func TestPlaceOrderErrors(t *testing.T) {
	srv := newServer(t)

	resp := placeOrder(t, srv, `{"customer_id":"c1","lines":[{"sku":"B","quantity":5}]}`, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body struct {
		SKUs []string `json:"skus"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"B"}, body.SKUs)

	assert.Equal(t, http.StatusBadRequest, placeOrder(t, srv, `{"customer_id":"c1","lines":[]}`, "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, placeOrder(t, srv, `not json`, "").StatusCode)

	missing, err := http.Get(srv.URL + "/orders/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAuditStream(t *testing.T) {
	srv := newServer(t)
	require.Equal(t, http.StatusCreated, placeOrder(t, srv, `{"customer_id":"c1","lines":[{"sku":"A","quantity":1},{"sku":"B","quantity":1}]}`, "alice").StatusCode)

	read := func(query string) []auditdomain.Event {
		resp, err := http.Get(srv.URL + "/audit" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

		var out []auditdomain.Event
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			var ev auditdomain.Event
			require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
			out = append(out, ev)
		}
		return out
	}

	all := read("")
	require.Len(t, all, 5)
	assert.Equal(t, "alice", all[0].Actor)

	page := read("?since=2&limit=2")
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)

	bad, err := http.Get(srv.URL + "/audit?since=-1")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", orchestratordomain.ErrValidation), http.StatusBadRequest},
		{&inventorydomain.InsufficientStockError{}, http.StatusConflict},
		{inventorydomain.ErrConcurrencyTimeout, http.StatusServiceUnavailable},
		{orchestratordomain.ErrReservationExpired, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: disk", orchestratordomain.ErrPersistence), http.StatusServiceUnavailable},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{domain.TransitionError(domain.StatusFailed, domain.StatusConfirmed), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, orderhttp.StatusFor(tc.err), tc.err.Error())
	}
}
