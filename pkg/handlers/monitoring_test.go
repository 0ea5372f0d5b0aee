package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantryos/kitchensight/pkg/monitoring"
)

type fixture struct {
	router    *mux.Router
	collector *monitoring.Collector
	alerts    *monitoring.AlertManager
}

func newFixture(t *testing.T, probe monitoring.Probe) *fixture {
	t.Helper()

	store := monitoring.NewStore(monitoring.DefaultStoreConfig())
	collector := monitoring.NewCollector(store, nil)
	profiler := monitoring.NewProfiler(store, 0, nil)
	alerts := monitoring.NewAlertManager(collector, nil, nil)
	health := monitoring.NewHealthAggregator(collector, alerts, probe, monitoring.HealthConfig{}, nil)
	dashboard := monitoring.NewDashboard(collector, alerts, health)

	router := mux.NewRouter()
	NewMonitoringHandler(collector, profiler, alerts, health, dashboard, nil).RegisterRoutes(router)

	return &fixture{router: router, collector: collector, alerts: alerts}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func (f *fixture) seed(t *testing.T, total, failed int) {
	t.Helper()
	base := time.Now().Add(-time.Minute)
	for i := 0; i < total; i++ {
		status := 200
		if i < failed {
			status = 500
		}
		require.NoError(t, f.collector.RecordRequest(monitoring.RequestMetric{
			Timestamp:       base.Add(time.Duration(i) * time.Millisecond),
			Method:          "GET",
			Path:            "/api/v1/kitchens",
			StatusCode:      status,
			DurationSeconds: 0.05,
		}))
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 100, 0)

	rec, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "healthy", body["status"])
}

func TestDetailedHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 100, 0)

	rec, body := f.get(t, "/health/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)

	components, ok := body["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, components, "dependency")
	assert.Contains(t, components, "system_metrics")
	assert.Contains(t, components, "application")
	// No system samples recorded: overall is degraded.
	assert.Equal(t, "degraded", body["overall_status"])
}

func TestReadyEndpoint(t *testing.T) {
	ready := newFixture(t, nil)
	rec, body := ready.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	dead := newFixture(t, func(ctx context.Context) error { return errors.New("unreachable") })
	rec, body = dead.get(t, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])
}

func TestLiveEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.get(t, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])
}

func TestMetricsSummaryEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 150, 10)

	rec, body := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["period_hours"])
	assert.EqualValues(t, 150, body["total_requests"])
	assert.InDelta(t, 10.0/150.0, body["error_rate"].(float64), 1e-9)

	times, ok := body["response_times"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 0.05, times["p95"].(float64), 1e-9)
}

func TestMetricsSummaryEmptyWindowPercentilesAreNull(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	times, ok := body["response_times"].(map[string]interface{})
	require.True(t, ok)
	assert.Nil(t, times["p95"])
	assert.Nil(t, times["p99"])
}

func TestMetricsSummaryHoursValidation(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.get(t, "/metrics?hours=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.get(t, "/metrics?hours=200")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.get(t, "/metrics?hours=plenty")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.collector.RecordSystemSample(monitoring.SystemMetric{
		Timestamp:     time.Now(),
		CPUPercent:    25,
		MemoryPercent: 50,
		DiskPercent:   40,
	}))

	rec, body := f.get(t, "/metrics/system")
	assert.Equal(t, http.StatusOK, rec.Code)

	current, ok := body["current"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 25, current["cpu_percent"].(float64), 1e-9)
}

func TestPerformanceMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.collector.Store().RecordSpan(monitoring.PerformanceSpan{
		Operation:       "db_query",
		Timestamp:       time.Now(),
		DurationSeconds: 0.02,
		Success:         true,
	})

	rec, body := f.get(t, "/metrics/performance")
	assert.Equal(t, http.StatusOK, rec.Code)

	operations, ok := body["operations"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, operations, "db_query")
}

func TestErrorMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 20, 5)

	rec, body := f.get(t, "/metrics/errors")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, body["total_errors"])
}

func TestUserMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now()
	for _, r := range []struct {
		userID int64
		status int
	}{
		{7, 200}, {7, 500}, {9, 200},
	} {
		require.NoError(t, f.collector.RecordRequest(monitoring.RequestMetric{
			Timestamp:       now,
			Method:          "GET",
			Path:            "/api/v1/kitchens",
			StatusCode:      r.status,
			DurationSeconds: 0.05,
			UserID:          r.userID,
		}))
	}

	rec, body := f.get(t, "/metrics/users")
	assert.Equal(t, http.StatusOK, rec.Code)

	users, ok := body["users"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, users, "7")
	seven := users["7"].(map[string]interface{})
	assert.EqualValues(t, 2, seven["request_count"])
	assert.EqualValues(t, 1, seven["error_count"])

	active, ok := body["active_users_24h"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, active["count"])
}

func TestPrometheusEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 5, 0)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/prom", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kitchensight_requests_total")
}

func TestDashboardOverviewEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 100, 0)

	rec, body := f.get(t, "/dashboard/overview")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "request_trend")
}

func TestDashboardOverviewEndpointEmptyStore(t *testing.T) {
	f := newFixture(t, nil)

	// With no requests recorded the 24h p95 has no value; the response must
	// still be well-formed JSON with a null rather than an aborted body.
	rec, body := f.get(t, "/dashboard/overview")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, body, "p95_24h")
	assert.Nil(t, body["p95_24h"])
	assert.Equal(t, "stable", body["request_trend"])
}

func TestSystemChartsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.collector.RecordSystemSample(monitoring.SystemMetric{
		Timestamp:     time.Now().Add(-time.Minute),
		CPUPercent:    30,
		MemoryPercent: 50,
		DiskPercent:   40,
	}))

	rec, body := f.get(t, "/dashboard/charts/system?hours=2&interval_minutes=30")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["period_hours"])
	assert.EqualValues(t, 30, body["interval_minutes"])

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	cpu, ok := data["cpu_usage"].([]interface{})
	require.True(t, ok)
	require.Len(t, cpu, 1)

	rec, _ = f.get(t, "/dashboard/charts/system?interval_minutes=1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestChartsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 10, 2)

	rec, body := f.get(t, "/dashboard/charts/requests")
	assert.Equal(t, http.StatusOK, rec.Code)

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "request_counts")
	assert.Contains(t, data, "error_counts")
	assert.Contains(t, data, "response_times")
}

func TestDashboardAlertsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 150, 10)
	require.NotEmpty(t, f.alerts.EvaluateTick())

	rec, body := f.get(t, "/dashboard/alerts")
	assert.Equal(t, http.StatusOK, rec.Code)

	current, ok := body["current_alerts"].([]interface{})
	require.True(t, ok)
	require.Len(t, current, 1)

	summary, ok := body["alert_summary"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, summary["total_active"])
}

func TestAcknowledgeAlertEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 150, 10)
	fired := f.alerts.EvaluateTick()
	require.Len(t, fired, 1)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dashboard/alerts/"+fired[0].ID+"/acknowledge", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dashboard/alerts/no-such-id/acknowledge", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateThresholdsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	body := bytes.NewBufferString(`{"cpu_percent": {"comparison": ">", "limit": 70}}`)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/thresholds", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 70, f.alerts.Thresholds()[monitoring.MetricCPUPercent].Limit, 1e-9)
}

func TestUpdateThresholdsAtomicOnInvalidEntry(t *testing.T) {
	f := newFixture(t, nil)

	body := bytes.NewBufferString(`{
		"cpu_percent": {"comparison": ">", "limit": 70},
		"error_rate": {"comparison": ">", "limit": 5}
	}`)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/thresholds", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The valid entry was not applied either.
	assert.InDelta(t, 80, f.alerts.Thresholds()[monitoring.MetricCPUPercent].Limit, 1e-9)
}

func TestUpdateThresholdsMalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/thresholds", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
