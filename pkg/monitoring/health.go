package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HealthState is one of the three overall health verdicts.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthMetrics is the aggregate snapshot attached to a health verdict.
type HealthMetrics struct {
	RequestsLast5Min int      `json:"requests_last_5min"`
	ErrorRate        float64  `json:"error_rate"`
	CPUPercent       *float64 `json:"cpu_percent"`
	MemoryPercent    *float64 `json:"memory_percent"`
	AvgResponseTime  float64  `json:"avg_response_time"`
}

// HealthStatus is the derived health verdict. Computed fresh on every query;
// never stored.
type HealthStatus struct {
	Status        HealthState   `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Issues        []string      `json:"issues"`
	Metrics       HealthMetrics `json:"metrics"`
}

// ComponentHealth is one entry of the detailed per-component status map.
type ComponentHealth struct {
	Status  HealthState `json:"status"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Probe checks an external dependency (e.g., a database ping). Supplied by a
// collaborator outside this core; a non-nil error means unreachable.
type Probe func(ctx context.Context) error

// HealthConfig configures verdict thresholds and probe behavior.
type HealthConfig struct {
	// UnhealthyErrorRate: 5 minute error rate above this is unhealthy.
	UnhealthyErrorRate float64
	// DegradedErrorRate: 5 minute error rate above this is degraded.
	DegradedErrorRate float64
	// DegradedP95Seconds: 5 minute p95 above this is degraded.
	DegradedP95Seconds float64
	// ProbeTimeout bounds each dependency probe invocation.
	ProbeTimeout time.Duration
	// StallTimeout: liveness fails when no metric has been recorded for
	// longer than this.
	StallTimeout time.Duration
}

// DefaultHealthConfig returns the default health thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		UnhealthyErrorRate: 0.10,
		DegradedErrorRate:  0.05,
		DegradedP95Seconds: 2.0,
		ProbeTimeout:       2 * time.Second,
		StallTimeout:       5 * time.Minute,
	}
}

// HealthAggregator combines collector aggregates, alert state, and the
// dependency probe into health, readiness, and liveness verdicts.
type HealthAggregator struct {
	collector *Collector
	alerts    *AlertManager
	probe     Probe
	breaker   *gobreaker.CircuitBreaker
	cfg       HealthConfig
	logger    *zap.Logger
}

// NewHealthAggregator creates a health aggregator. probe may be nil when no
// external dependency exists; the dependency is then always reachable. The
// probe runs behind a circuit breaker so a dead dependency is not hammered
// on every health query.
func NewHealthAggregator(collector *Collector, alerts *AlertManager, probe Probe, cfg HealthConfig, logger *zap.Logger) *HealthAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultHealthConfig()
	if cfg.UnhealthyErrorRate <= 0 {
		cfg.UnhealthyErrorRate = def.UnhealthyErrorRate
	}
	if cfg.DegradedErrorRate <= 0 {
		cfg.DegradedErrorRate = def.DegradedErrorRate
	}
	if cfg.DegradedP95Seconds <= 0 {
		cfg.DegradedP95Seconds = def.DegradedP95Seconds
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = def.StallTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dependency-probe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &HealthAggregator{
		collector: collector,
		alerts:    alerts,
		probe:     probe,
		breaker:   breaker,
		cfg:       cfg,
		logger:    logger,
	}
}

// BasicHealth computes the overall verdict: unhealthy when the 5 minute
// error rate exceeds the unhealthy limit or the dependency is unreachable;
// degraded when the error rate or p95 exceeds the degraded limits or any
// resource threshold is currently triggered; healthy otherwise. Issues are
// listed in the order checked.
func (h *HealthAggregator) BasicHealth(ctx context.Context) HealthStatus {
	const window = 5 * time.Minute

	errorRate, _ := h.collector.ErrorRate(window)
	requestCount, _ := h.collector.RequestCount(window)
	avgResponse, _ := h.collector.AvgResponseTime(window)
	p95, _ := h.collector.ResponseTimePercentile(95, window)

	metrics := HealthMetrics{
		RequestsLast5Min: requestCount,
		ErrorRate:        errorRate,
		AvgResponseTime:  avgResponse,
	}
	if sample, ok := h.collector.LatestSystem(); ok {
		cpu, mem := sample.CPUPercent, sample.MemoryPercent
		metrics.CPUPercent = &cpu
		metrics.MemoryPercent = &mem
	}

	status := HealthHealthy
	var issues []string

	if errorRate > h.cfg.UnhealthyErrorRate {
		status = HealthUnhealthy
		issues = append(issues, "error rate above unhealthy limit")
	}
	if err := h.checkDependency(ctx); err != nil {
		status = HealthUnhealthy
		issues = append(issues, "dependency unreachable")
	}

	if status != HealthUnhealthy {
		if errorRate > h.cfg.DegradedErrorRate {
			status = HealthDegraded
			issues = append(issues, "error rate above degraded limit")
		}
		if !math.IsNaN(p95) && p95 > h.cfg.DegradedP95Seconds {
			status = HealthDegraded
			issues = append(issues, "response time p95 above limit")
		}
		if h.alerts != nil && h.alerts.ResourceTriggered() {
			status = HealthDegraded
			issues = append(issues, "resource alert triggered")
		}
	}

	return HealthStatus{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: h.collector.Uptime().Seconds(),
		Issues:        issues,
		Metrics:       metrics,
	}
}

// Readiness reports whether the service should accept traffic: the
// dependency probe succeeds and basic health is not unhealthy.
func (h *HealthAggregator) Readiness(ctx context.Context) bool {
	if err := h.checkDependency(ctx); err != nil {
		h.logger.Warn("readiness probe failed", zap.Error(err))
		return false
	}
	return h.BasicHealth(ctx).Status != HealthUnhealthy
}

// Liveness reports whether the collector is still recording: false only
// when no metric of any category has been recorded for longer than the
// stall timeout.
func (h *HealthAggregator) Liveness() bool {
	return time.Since(h.collector.LastRecordedAt()) <= h.cfg.StallTimeout
}

// DetailedHealth returns a per-component status map.
func (h *HealthAggregator) DetailedHealth(ctx context.Context) map[string]ComponentHealth {
	components := make(map[string]ComponentHealth, 3)

	if err := h.checkDependency(ctx); err != nil {
		components["dependency"] = ComponentHealth{
			Status:  HealthUnhealthy,
			Message: err.Error(),
		}
	} else {
		components["dependency"] = ComponentHealth{
			Status:  HealthHealthy,
			Message: "dependency reachable",
		}
	}

	if sample, ok := h.collector.LatestSystem(); ok {
		components["system_metrics"] = ComponentHealth{
			Status:  HealthHealthy,
			Details: sample,
		}
	} else {
		components["system_metrics"] = ComponentHealth{
			Status:  HealthDegraded,
			Message: "no system samples recorded yet",
		}
	}

	basic := h.BasicHealth(ctx)
	components["application"] = ComponentHealth{
		Status:  basic.Status,
		Details: basic.Metrics,
	}

	return components
}

// checkDependency invokes the probe with a bounded timeout through the
// circuit breaker. Timeouts, probe errors, and an open breaker all count as
// unreachable.
func (h *HealthAggregator) checkDependency(ctx context.Context) error {
	if h.probe == nil {
		return nil
	}

	_, err := h.breaker.Execute(func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- h.probe(probeCtx) }()

		select {
		case err := <-done:
			return nil, err
		case <-probeCtx.Done():
			return nil, probeCtx.Err()
		}
	})
	if err != nil {
		return NewDependencyError("dependency probe failed", err)
	}
	return nil
}
