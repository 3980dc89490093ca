package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-service/internal/allocator"
	"fulfillment-service/internal/cache"
	"fulfillment-service/internal/config"
	"fulfillment-service/internal/engine"
	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/ledger"
	"fulfillment-service/internal/metrics"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

const (
	testUser = "admin"
	testPass = "secret"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)

	gen := ids.NewGenerator()
	alloc := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeHomeOnly}, gen)
	clock := ids.FixedClock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(st, ledger.New(), alloc, clock, gen).WithMetrics(m)

	srv := NewServer(eng, cache.NewWatchlist(), m, reg, &config.Config{
		Username: testUser,
		Password: testPass,
		HTTPPort: "0",
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return srv, mux
}

func submitBody(orderID string, qty float64) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"order_id":    orderID,
		"customer_id": "CUST-1",
		"channel":     "web",
		"actor":       "system",
		"lines": []map[string]interface{}{
			{"ID": "L1", "ProductID": "P1", "ProductName": "Mug", "Quantity": qty, "UnitPrice": 50, "UOM": "EA"},
		},
		"recipient": map[string]string{"recipient": "Ivan Petrov", "address": "12 Green St"},
	})
	return body
}

func doRequest(mux *http.ServeMux, method, path string, body []byte, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if auth {
		req.SetBasicAuth(testUser, testPass)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmitRequiresAuth(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAndGetOrder(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 3), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/orders/ORD-1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		models.Order
		Sla models.SlaInfo `json:"sla"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "ORD-1", view.ID)
	assert.Len(t, view.Lines, 3)
	assert.Equal(t, models.SlaCompliant, view.Sla.Status)
}

func TestSubmitDuplicateConflicts(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdvanceAndInvalidTransition(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 2), true)

	body, _ := json.Marshal(map[string]string{"target": "Allocated", "actor": "allocator"})
	rec := doRequest(mux, http.MethodPost, "/orders/ORD-1/advance", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var o models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, models.StatusAllocated, o.Status)

	// Skipping a step is rejected.
	body, _ = json.Marshal(map[string]string{"target": "Picked", "actor": "allocator"})
	rec = doRequest(mux, http.MethodPost, "/orders/ORD-1/advance", body, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body, _ = json.Marshal(map[string]string{"target": "Teleported"})
	rec = doRequest(mux, http.MethodPost, "/orders/ORD-1/advance", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelThenTerminalConflict(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)

	body, _ := json.Marshal(map[string]string{"actor": "support"})
	rec := doRequest(mux, http.MethodPost, "/orders/ORD-1/cancel", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/orders/ORD-1/cancel", body, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)

	rec := doRequest(mux, http.MethodGet, "/orders/ORD-1/history", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []models.AuditEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "Order", events[0].EntityName)

	rec = doRequest(mux, http.MethodGet, "/orders/ORD-404/history", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotesEndpoint(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)

	body, _ := json.Marshal(map[string]string{"actor": "support", "note": "customer called"})
	rec := doRequest(mux, http.MethodPost, "/orders/ORD-1/notes", body, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var event models.AuditEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, "note", event.ChangedParameter)
}

func TestSlaEndpoint(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)

	rec := doRequest(mux, http.MethodGet, "/orders/ORD-1/sla", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var info models.SlaInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, models.SlaCompliant, info.Status)
	assert.Equal(t, engine.DefaultSlaTarget, info.Target)
}

func TestTimelineAndTrackingEndpoints(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 2), true)

	rec := doRequest(mux, http.MethodGet, "/orders/ORD-1/timeline?method=HOME_DELIVERY", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/orders/ORD-1/tracking", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var shipments []models.TrackingShipment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shipments))
	require.Len(t, shipments, 1)
	assert.NotEmpty(t, shipments[0].TrackingNumber)
}

func TestListOrdersFilter(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-2", 1), true)

	rec := doRequest(mux, http.MethodGet, "/orders?customer_id=CUST-1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []*models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 2)

	rec = doRequest(mux, http.MethodGet, "/orders?status=Bogus", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistEndpoint(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doRequest(mux, http.MethodGet, "/sla/watchlist", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Breached    []*models.Order `json:"breached"`
		Approaching []*models.Order `json:"approaching"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Empty(t, view.Breached)
}

func TestMetricsEndpoint(t *testing.T) {
	_, mux := newTestServer(t)
	doRequest(mux, http.MethodPost, "/orders", submitBody("ORD-1", 1), true)

	rec := doRequest(mux, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fulfillment_orders_submitted_total")
}
