package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archtrace/raceway/internal/httpapi"
	"github.com/archtrace/raceway/internal/ingest"
	"github.com/archtrace/raceway/internal/storage"
	"github.com/archtrace/raceway/internal/storage/memory"
)

func setupHandlers(t *testing.T) *httpapi.Handlers {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Close)
	clocks := ingest.NewClockRegistry(0, 0)
	pipeline := ingest.New(store, clocks, 0)
	return &httpapi.Handlers{
		Store:        store,
		Pipeline:     pipeline,
		Logger:       zap.NewNop(),
		MaxGraphSize: 0,
		StartedAt:    time.Now(),
		Version:      "test",
	}
}

func newTestEcho(h *httpapi.Handlers) *echo.Echo {
	e := echo.New()
	httpapi.RegisterRoutes(e, h)
	return e
}

func postEventBody(traceID, eventID, threadID string, ts time.Time) string {
	return `{"events": [{
		"id": "` + eventID + `",
		"trace_id": "` + traceID + `",
		"parent_id": null,
		"timestamp": "` + ts.Format(time.RFC3339Nano) + `",
		"kind": {"FunctionCall": {"name": "doWork", "module": "svc"}},
		"metadata": {
			"thread_id": "` + threadID + `",
			"process_id": 1,
			"service_name": "svc-a",
			"instance_id": "i1"
		},
		"causality_vector": [],
		"lock_set": []
	}]}`
}

func TestPostEventsThenGetTrace(t *testing.T) {
	h := setupHandlers(t)
	e := newTestEcho(h)

	traceID := "11111111-1111-1111-1111-111111111111"
	eventID := "22222222-2222-2222-2222-222222222222"
	body := postEventBody(traceID, eventID, "t1", time.Now())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/traces/"+traceID, nil)
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			EventCount int `json:"event_count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.EventCount)
}

func TestGetTraceNotFoundReturns404(t *testing.T) {
	h := setupHandlers(t)
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodGet, "/api/traces/33333333-3333-3333-3333-333333333333", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthNeverTouchesStorage(t *testing.T) {
	h := setupHandlers(t)
	h.Store = nil // any storage call from /health would now panic
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPerformanceMetricsReportsAnomalyTotal(t *testing.T) {
	h := setupHandlers(t)
	e := newTestEcho(h)

	require.NoError(t, h.Store.RecordAnomaly(context.Background(), storage.AnomalyRecord{
		TraceID:    uuid.New(),
		EventID:    uuid.New(),
		Operation:  "svc-a.doWork",
		Z:          4.2,
		ExpectedMs: 10,
		ActualMs:   80,
		Severity:   storage.AnomalyWarning,
		DetectedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/performance/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			AnomaliesDetectedTotal int64 `json:"anomalies_detected_total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Data.AnomaliesDetectedTotal)
}

func TestPostEventsRejectsMalformedBody(t *testing.T) {
	h := setupHandlers(t)
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
