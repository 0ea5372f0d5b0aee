// Package handlers exposes the monitoring core's HTTP read surface:
// health probes, metric summaries, and dashboard projections.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pantryos/kitchensight/pkg/monitoring"
)

// MonitoringHandler serves the read-only monitoring endpoints.
type MonitoringHandler struct {
	collector *monitoring.Collector
	profiler  *monitoring.Profiler
	alerts    *monitoring.AlertManager
	health    *monitoring.HealthAggregator
	dashboard *monitoring.Dashboard
	logger    *zap.Logger
}

// NewMonitoringHandler creates the handler over the given components.
func NewMonitoringHandler(
	collector *monitoring.Collector,
	profiler *monitoring.Profiler,
	alerts *monitoring.AlertManager,
	health *monitoring.HealthAggregator,
	dashboard *monitoring.Dashboard,
	logger *zap.Logger,
) *MonitoringHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringHandler{
		collector: collector,
		profiler:  profiler,
		alerts:    alerts,
		health:    health,
		dashboard: dashboard,
		logger:    logger,
	}
}

// RegisterRoutes attaches all monitoring routes to the router.
func (h *MonitoringHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", h.DetailedHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.Ready).Methods(http.MethodGet)
	r.HandleFunc("/health/live", h.Live).Methods(http.MethodGet)

	r.HandleFunc("/metrics", h.MetricsSummary).Methods(http.MethodGet)
	r.HandleFunc("/metrics/system", h.SystemMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/performance", h.PerformanceMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/endpoints", h.EndpointMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/errors", h.ErrorMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/users", h.UserMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prom", promhttp.HandlerFor(h.collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/dashboard/overview", h.DashboardOverview).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/charts/requests", h.RequestCharts).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/charts/system", h.SystemCharts).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/alerts", h.DashboardAlerts).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/alerts/{id}/acknowledge", h.AcknowledgeAlert).Methods(http.MethodPost)

	r.HandleFunc("/admin/thresholds", h.UpdateThresholds).Methods(http.MethodPut)
}

// Health serves the overall health verdict.
func (h *MonitoringHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.BasicHealth(r.Context()))
}

// DetailedHealth serves the per-component status map.
func (h *MonitoringHandler) DetailedHealth(w http.ResponseWriter, r *http.Request) {
	components := h.health.DetailedHealth(r.Context())

	overall := monitoring.HealthHealthy
	for _, c := range components {
		switch c.Status {
		case monitoring.HealthUnhealthy:
			overall = monitoring.HealthUnhealthy
		case monitoring.HealthDegraded:
			if overall == monitoring.HealthHealthy {
				overall = monitoring.HealthDegraded
			}
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":      time.Now().UTC(),
		"overall_status": overall,
		"components":     components,
	})
}

// Ready serves the orchestrator readiness probe: 200 when ready, 503 when
// the dependency is unreachable or health is unhealthy.
func (h *MonitoringHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.health.Readiness(r.Context()) {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "not_ready",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

// Live serves the orchestrator liveness probe.
func (h *MonitoringHandler) Live(w http.ResponseWriter, r *http.Request) {
	if !h.health.Liveness() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "stalled",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": h.collector.Uptime().Seconds(),
	})
}

// MetricsSummary serves the aggregate summary for the requested period.
func (h *MonitoringHandler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 1, 1, 168)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	window := time.Duration(hours) * time.Hour

	total, _ := h.collector.RequestCount(window)
	errorRate, _ := h.collector.ErrorRate(window)
	avg, _ := h.collector.AvgResponseTime(window)
	p95, _ := h.collector.ResponseTimePercentile(95, window)
	p99, _ := h.collector.ResponseTimePercentile(99, window)
	top, _ := h.collector.TopEndpoints(window, 10)
	breakdown, _ := h.collector.ErrorBreakdown(window)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":      time.Now().UTC(),
		"period_hours":   hours,
		"total_requests": total,
		"error_rate":     errorRate,
		"response_times": map[string]interface{}{
			"avg": avg,
			"p95": jsonFloat(p95),
			"p99": jsonFloat(p99),
		},
		"top_endpoints":   top,
		"error_breakdown": breakdown,
	})
}

// SystemMetrics serves the latest system sample and recent history.
func (h *MonitoringHandler) SystemMetrics(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}
	if current, ok := h.collector.LatestSystem(); ok {
		response["current"] = current
	}
	if history, err := h.collector.SystemHistory(time.Hour); err == nil {
		if len(history) > 10 {
			history = history[len(history)-10:]
		}
		response["history"] = history
	}
	h.writeJSON(w, http.StatusOK, response)
}

// PerformanceMetrics serves per-operation timing statistics.
func (h *MonitoringHandler) PerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	operations := make(map[string]monitoring.OperationStats)
	for _, op := range h.profiler.Operations() {
		if stats := h.profiler.Stats(op); stats.Count > 0 {
			operations[op] = stats
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"operations": operations,
	})
}

// EndpointMetrics serves cumulative per-endpoint statistics.
func (h *MonitoringHandler) EndpointMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"endpoints": h.collector.EndpointStats(),
	})
}

// UserMetrics serves cumulative per-user activity and the ids active within
// the last 24 hours.
func (h *MonitoringHandler) UserMetrics(w http.ResponseWriter, r *http.Request) {
	active, _ := h.collector.ActiveUsers(24 * time.Hour)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"users":     h.collector.UserStats(),
		"active_users_24h": map[string]interface{}{
			"count":    len(active),
			"user_ids": active,
		},
	})
}

// ErrorMetrics serves the last hour's error breakdown and recent errors.
func (h *MonitoringHandler) ErrorMetrics(w http.ResponseWriter, r *http.Request) {
	breakdown, _ := h.collector.ErrorBreakdown(time.Hour)
	recent, _ := h.collector.RecentErrors(time.Hour, 20)

	total := 0
	for _, e := range breakdown {
		total += e.Count
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"period_hours":    1,
		"total_errors":    total,
		"error_breakdown": breakdown,
		"recent_errors":   recent,
	})
}

// DashboardOverview serves the dashboard summary projection.
func (h *MonitoringHandler) DashboardOverview(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.dashboard.Overview(r.Context()))
}

// RequestCharts serves bucketed request series for charting.
func (h *MonitoringHandler) RequestCharts(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24, 1, 168)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	interval, err := queryInt(r, "interval_minutes", 60, 5, 1440)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	requests, err := h.dashboard.ChartSeries("request_count", hours, interval)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	errCounts, _ := h.dashboard.ChartSeries("error_count", hours, interval)
	responseTimes, _ := h.dashboard.ChartSeries("avg_response_time", hours, interval)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"period_hours":     hours,
		"interval_minutes": interval,
		"data": map[string]interface{}{
			"request_counts": requests,
			"error_counts":   errCounts,
			"response_times": responseTimes,
		},
	})
}

// SystemCharts serves bucketed system resource series for charting.
func (h *MonitoringHandler) SystemCharts(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24, 1, 168)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	interval, err := queryInt(r, "interval_minutes", 60, 5, 1440)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	cpu, err := h.dashboard.ChartSeries(monitoring.MetricCPUPercent, hours, interval)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	memory, _ := h.dashboard.ChartSeries(monitoring.MetricMemoryPercent, hours, interval)
	diskSeries, _ := h.dashboard.ChartSeries(monitoring.MetricDiskPercent, hours, interval)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"period_hours":     hours,
		"interval_minutes": interval,
		"data": map[string]interface{}{
			"cpu_usage":    cpu,
			"memory_usage": memory,
			"disk_usage":   diskSeries,
		},
	})
}

// DashboardAlerts serves active alerts, alert history, and thresholds.
func (h *MonitoringHandler) DashboardAlerts(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24, 1, 168)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	active := h.alerts.ActiveAlerts()
	history, _ := h.alerts.History(time.Duration(hours) * time.Hour)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":      time.Now().UTC(),
		"current_alerts": active,
		"alert_history":  history,
		"thresholds":     h.alerts.Thresholds(),
		"alert_summary": map[string]int{
			"total_active": len(active),
		},
	})
}

// AcknowledgeAlert marks an alert as seen. 404 for unknown ids.
func (h *MonitoringHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.alerts.Acknowledge(id); err != nil {
		if monitoring.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "acknowledged",
		"alert_id":  id,
		"timestamp": time.Now().UTC(),
	})
}

// UpdateThresholds replaces alert thresholds at runtime. The body is a map
// of metric key to threshold; the request fails atomically on the first
// invalid entry.
func (h *MonitoringHandler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var updates map[string]monitoring.Threshold
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	for key, t := range updates {
		if err := monitoring.ValidateThreshold(key, t); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	for key, t := range updates {
		if err := h.alerts.SetThreshold(key, t); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "updated",
		"thresholds": h.alerts.Thresholds(),
	})
}

func (h *MonitoringHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *MonitoringHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// queryInt parses an integer query parameter with a default and bounds.
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, monitoring.NewValidationError("%s %q is not an integer", name, raw)
	}
	if n < min || n > max {
		return 0, monitoring.NewValidationError("%s %d out of range [%d,%d]", name, n, min, max)
	}
	return n, nil
}

// jsonFloat renders NaN (empty-window percentile) as null instead of
// breaking JSON encoding.
func jsonFloat(v float64) interface{} {
	if v != v {
		return nil
	}
	return v
}
