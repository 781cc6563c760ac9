package metric

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEvent(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("ping", "ok"))

	RecordEvent("ping", "ok")
	RecordEvent("ping", "ok")

	assert.Equal(t, before+2, testutil.ToFloat64(eventsTotal.WithLabelValues("ping", "ok")))
}

func TestActiveConnections(t *testing.T) {
	IncrementActiveConnections("websocket")
	IncrementActiveConnections("websocket")
	DecrementActiveConnections("websocket")

	assert.Equal(t, float64(1), testutil.ToFloat64(activeConnections.WithLabelValues("websocket")))
}

func TestServer(t *testing.T) {
	RecordHTTPMetrics(http.MethodGet, "/api/sessions/:code", http.StatusOK, 12*time.Millisecond)
	SetActiveSessions(3)

	e := NewServer(nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_active_sessions 3")
	assert.Contains(t, rec.Body.String(), `http_requests_total{endpoint="/api/sessions/:code",method="GET",status="200"}`)
}

func TestServer_Ready(t *testing.T) {
	SetActiveSessions(2)

	var storeErr error
	e := NewServer(map[string]Check{
		"store": func(context.Context) error { return storeErr },
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","sessions":"2"}`, rec.Body.String())

	storeErr = errors.New("connection refused")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","store":"connection refused","sessions":"2"}`, rec.Body.String())
}
