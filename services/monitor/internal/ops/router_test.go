package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"slotwatch/pkg/metrics"
	"slotwatch/services/monitor"
	"slotwatch/services/timeslots"
)

type staticFetcher struct{}

func (staticFetcher) FetchSlots(context.Context, []int64, float64) ([]timeslots.Response, error) {
	return []timeslots.Response{{Timeslots: []timeslots.TimeSlot{{From: "a", To: "b"}}}}, nil
}

func (staticFetcher) FetchSlotsInRanges(ctx context.Context, ids []int64, rps float64, _, _ string) ([]timeslots.Response, error) {
	return staticFetcher{}.FetchSlots(ctx, ids, rps)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	ready := errors.New("bus not connected")
	h := Router(RouterOptions{Ready: func() error { return ready }})

	rec := do(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "bus not connected")

	ready = nil
	rec = do(t, h, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.MonitorStarted()

	rec := do(t, Router(RouterOptions{Gatherer: reg}), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "slotwatch_monitors_running 1")
}

func TestMonitorRoutes(t *testing.T) {
	engine := timeslots.NewEngine()
	recorder := timeslots.NewRecorder(10)
	sub := engine.Subscribe(recorder.Handle)
	defer sub.Unsubscribe()

	registry := monitor.NewRegistry(staticFetcher{}, engine)
	defer registry.StopAll()

	id, err := registry.StartMonitor(context.Background(), monitor.Config{
		IDs:              []int64{7},
		ComparisonKey:    "shop",
		RPS:              1000,
		MinCycleInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return recorder.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	h := Router(RouterOptions{Monitors: registry, Memory: engine, Recorder: recorder})

	rec := do(t, h, http.MethodGet, "/v1/monitors")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, id, list[0]["id"])
	require.Equal(t, "running", list[0]["state"])
	require.Equal(t, "shop", list[0]["comparison_key"])

	rec = do(t, h, http.MethodGet, "/v1/monitors/"+id)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/memory")
	require.JSONEq(t, `["shop"]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/history/shop")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []timeslots.DiffEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	require.Equal(t, "7", history[0].ID)

	rec = do(t, h, http.MethodGet, "/v1/memory/shop")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"latest"`)

	rec = do(t, h, http.MethodGet, "/v1/history/unknown")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/monitors/"+id)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/v1/monitors/"+id)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/monitors/"+id)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/history")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1, "recent history survives the monitor stopping")
}

func TestReset(t *testing.T) {
	engine := timeslots.NewEngine()
	_, err := engine.Diff(&timeslots.Response{Timeslots: []timeslots.TimeSlot{{From: "a", To: "b"}}}, "k", "1")
	require.NoError(t, err)

	h := Router(RouterOptions{Memory: engine})
	rec := do(t, h, http.MethodPost, "/v1/reset")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, engine.Keys())

	rec = do(t, h, http.MethodGet, "/v1/reset")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEmptyRouter(t *testing.T) {
	h := Router(RouterOptions{})
	require.JSONEq(t, `[]`, do(t, h, http.MethodGet, "/v1/monitors").Body.String())
	require.JSONEq(t, `[]`, do(t, h, http.MethodGet, "/v1/history").Body.String())
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/monitors/x").Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/memory/x").Code)
}

func TestRateLimit(t *testing.T) {
	h := Router(RouterOptions{RateLimit: 2})
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/healthz").Code)
}

func TestCORS(t *testing.T) {
	h := Router(RouterOptions{AllowedOrigins: []string{"https://ops.example"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/monitors", nil)
	req.Header.Set("Origin", "https://ops.example")
	h.ServeHTTP(rec, req)
	require.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/monitors", nil)
	req.Header.Set("Origin", "https://evil.example")
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
