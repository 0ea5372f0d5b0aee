package monitoring

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metric keys evaluated by the alert manager.
const (
	MetricErrorRate       = "error_rate"
	MetricResponseTimeP95 = "response_time_p95"
	MetricCPUPercent      = "cpu_percent"
	MetricMemoryPercent   = "memory_percent"
	MetricDiskPercent     = "disk_percent"
)

// alertTypes maps a metric key to the alert type raised when its threshold
// is crossed.
var alertTypes = map[string]string{
	MetricErrorRate:       "high_error_rate",
	MetricResponseTimeP95: "slow_response_time",
	MetricCPUPercent:      "high_cpu_usage",
	MetricMemoryPercent:   "high_memory_usage",
	MetricDiskPercent:     "high_disk_usage",
}

// Threshold configures one alert condition: the metric crosses Limit in the
// direction of Comparison.
type Threshold struct {
	Comparison string  `json:"comparison" yaml:"comparison"` // ">" or "<"
	Limit      float64 `json:"limit" yaml:"limit"`
}

// Alert is one threshold crossing. Created by the manager when the metric
// crosses its threshold outside the cooldown window; mutated only to set
// Acknowledged; evicted oldest-first beyond the bounded history.
type Alert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	TriggeredAt  time.Time `json:"triggered_at"`
	MetricKey    string    `json:"metric_key"`
	Observed     float64   `json:"observed_value"`
	Limit        float64   `json:"limit_value"`
	Acknowledged bool      `json:"acknowledged"`
}

// AlertManagerConfig configures evaluation behavior.
type AlertManagerConfig struct {
	// Cooldown is the minimum interval between two alerts of one type.
	Cooldown time.Duration
	// EvaluationWindow bounds the request aggregates read on each tick.
	EvaluationWindow time.Duration
	// HistorySize bounds the retained alert history.
	HistorySize int
	// Thresholds overrides the defaults per metric key.
	Thresholds map[string]Threshold
}

// DefaultThresholds returns the default alert thresholds.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		MetricErrorRate:       {Comparison: ">", Limit: 0.05},
		MetricResponseTimeP95: {Comparison: ">", Limit: 2.0},
		MetricCPUPercent:      {Comparison: ">", Limit: 80.0},
		MetricMemoryPercent:   {Comparison: ">", Limit: 85.0},
		MetricDiskPercent:     {Comparison: ">", Limit: 90.0},
	}
}

// AlertManager evaluates collector aggregates against configured thresholds
// on each tick and tracks the resulting alerts. Each alert type moves
// between two states: quiescent, and triggered within the cooldown window.
// While triggered, further crossings of the same type are suppressed; once
// the cooldown expires a still-breaching metric re-triggers on the next
// tick. Immediate re-trigger after cooldown expiry is a deliberate policy
// choice, not a bug: cooldown suppresses repetition within the window only.
type AlertManager struct {
	collector *Collector
	logger    *zap.Logger

	mu            sync.Mutex
	thresholds    map[string]Threshold
	lastTriggered map[string]time.Time
	history       []*Alert
	byID          map[string]*Alert
	historySize   int
	cooldown      time.Duration
	evalWindow    time.Duration
}

// NewAlertManager creates an alert manager reading aggregates from the
// collector. A nil config uses a 5 minute cooldown, 5 minute evaluation
// window, 1000-entry history, and the default thresholds.
func NewAlertManager(collector *Collector, cfg *AlertManagerConfig, logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &AlertManagerConfig{}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.EvaluationWindow <= 0 {
		cfg.EvaluationWindow = 5 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}

	thresholds := DefaultThresholds()
	for key, t := range cfg.Thresholds {
		thresholds[key] = t
	}

	return &AlertManager{
		collector:     collector,
		logger:        logger,
		thresholds:    thresholds,
		lastTriggered: make(map[string]time.Time),
		byID:          make(map[string]*Alert),
		historySize:   cfg.HistorySize,
		cooldown:      cfg.Cooldown,
		evalWindow:    cfg.EvaluationWindow,
	}
}

// SetThreshold replaces the threshold for a metric key at runtime.
func (am *AlertManager) SetThreshold(metricKey string, t Threshold) error {
	if err := validateThreshold(metricKey, t); err != nil {
		return err
	}

	am.mu.Lock()
	am.thresholds[metricKey] = t
	am.mu.Unlock()

	am.logger.Info("alert threshold updated",
		zap.String("metric", metricKey),
		zap.String("comparison", t.Comparison),
		zap.Float64("limit", t.Limit),
	)
	return nil
}

// Thresholds returns a snapshot of the configured thresholds.
func (am *AlertManager) Thresholds() map[string]Threshold {
	am.mu.Lock()
	defer am.mu.Unlock()

	out := make(map[string]Threshold, len(am.thresholds))
	for k, v := range am.thresholds {
		out[k] = v
	}
	return out
}

// EvaluateTick evaluates every configured threshold against the collector's
// current aggregates and raises alerts for crossings whose cooldown has
// elapsed. Safe to call at any frequency: at most one alert per type is
// created within one cooldown window. A threshold that cannot be evaluated
// is logged and skipped without halting the remaining thresholds.
func (am *AlertManager) EvaluateTick() []Alert {
	am.mu.Lock()
	keys := make([]string, 0, len(am.thresholds))
	for key := range am.thresholds {
		keys = append(keys, key)
	}
	am.mu.Unlock()
	sort.Strings(keys)

	var fired []Alert
	for _, key := range keys {
		am.mu.Lock()
		threshold := am.thresholds[key]
		am.mu.Unlock()

		if err := validateThreshold(key, threshold); err != nil {
			am.logger.Error("skipping misconfigured threshold",
				zap.String("metric", key),
				zap.Error(err),
			)
			continue
		}

		value, ok := am.currentValue(key)
		if !ok {
			continue
		}

		if !crossed(value, threshold) {
			continue
		}

		if alert := am.trigger(key, threshold, value); alert != nil {
			fired = append(fired, *alert)
		}
	}
	return fired
}

// Acknowledge marks the alert as seen. Idempotent; acknowledging twice does
// not error or change state further. Returns a not-found error when the id
// is not in the retained history.
func (am *AlertManager) Acknowledge(id string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, ok := am.byID[id]
	if !ok {
		return NewNotFoundError("alert %q not found", id)
	}
	alert.Acknowledged = true
	return nil
}

// ActiveAlerts returns alerts whose type is currently in the triggered
// state (within cooldown of its crossing), newest first.
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	var out []Alert
	for i := len(am.history) - 1; i >= 0; i-- {
		a := am.history[i]
		if now.Sub(a.TriggeredAt) < am.cooldown {
			out = append(out, *a)
		}
	}
	return out
}

// History returns retained alerts triggered within the window, oldest first.
func (am *AlertManager) History(window time.Duration) ([]Alert, error) {
	if window <= 0 {
		return nil, NewValidationError("window %v must be positive", window)
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var out []Alert
	for _, a := range am.history {
		if !a.TriggeredAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// ResourceTriggered reports whether any resource threshold (cpu, memory,
// disk) is currently in the triggered state.
func (am *AlertManager) ResourceTriggered() bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	for _, key := range []string{MetricCPUPercent, MetricMemoryPercent, MetricDiskPercent} {
		if last, ok := am.lastTriggered[alertTypes[key]]; ok && now.Sub(last) < am.cooldown {
			return true
		}
	}
	return false
}

// currentValue reads the current aggregate for a metric key. The second
// return is false when no data is available for the metric this tick.
func (am *AlertManager) currentValue(metricKey string) (float64, bool) {
	switch metricKey {
	case MetricErrorRate:
		rate, err := am.collector.ErrorRate(am.evalWindow)
		if err != nil {
			return 0, false
		}
		count, err := am.collector.RequestCount(am.evalWindow)
		if err != nil || count == 0 {
			return 0, false
		}
		return rate, true
	case MetricResponseTimeP95:
		p95, err := am.collector.ResponseTimePercentile(95, am.evalWindow)
		if err != nil || math.IsNaN(p95) {
			return 0, false
		}
		return p95, true
	case MetricCPUPercent, MetricMemoryPercent, MetricDiskPercent:
		sample, ok := am.collector.LatestSystem()
		if !ok {
			return 0, false
		}
		switch metricKey {
		case MetricCPUPercent:
			return sample.CPUPercent, true
		case MetricMemoryPercent:
			return sample.MemoryPercent, true
		default:
			return sample.DiskPercent, true
		}
	default:
		return 0, false
	}
}

// trigger creates an alert unless the type is still within cooldown.
func (am *AlertManager) trigger(metricKey string, t Threshold, value float64) *Alert {
	alertType := alertTypes[metricKey]

	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	if last, ok := am.lastTriggered[alertType]; ok && now.Sub(last) < am.cooldown {
		return nil
	}
	am.lastTriggered[alertType] = now

	alert := &Alert{
		ID:          uuid.NewString(),
		Type:        alertType,
		TriggeredAt: now,
		MetricKey:   metricKey,
		Observed:    value,
		Limit:       t.Limit,
	}
	am.history = append(am.history, alert)
	am.byID[alert.ID] = alert
	if len(am.history) > am.historySize {
		evicted := am.history[0]
		am.history = am.history[1:]
		delete(am.byID, evicted.ID)
	}

	am.logger.Warn("alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alertType),
		zap.String("metric", metricKey),
		zap.Float64("observed", value),
		zap.Float64("limit", t.Limit),
	)
	return alert
}

func crossed(value float64, t Threshold) bool {
	switch t.Comparison {
	case ">":
		return value > t.Limit
	case "<":
		return value < t.Limit
	default:
		return false
	}
}

// ValidateThreshold reports whether the threshold is usable for the metric:
// known metric key, valid comparison, positive limit consistent with the
// metric's natural range.
func ValidateThreshold(metricKey string, t Threshold) error {
	return validateThreshold(metricKey, t)
}

func validateThreshold(metricKey string, t Threshold) error {
	if _, ok := alertTypes[metricKey]; !ok {
		return NewValidationError("unknown metric key %q", metricKey)
	}
	if t.Comparison != ">" && t.Comparison != "<" {
		return NewValidationError("comparison %q must be > or <", t.Comparison)
	}
	if t.Limit <= 0 {
		return NewValidationError("limit %f must be positive", t.Limit)
	}
	switch metricKey {
	case MetricErrorRate:
		if t.Limit > 1 {
			return NewValidationError("error_rate limit %f out of range (0,1]", t.Limit)
		}
	case MetricCPUPercent, MetricMemoryPercent, MetricDiskPercent:
		if t.Limit > 100 {
			return NewValidationError("%s limit %f out of range (0,100]", metricKey, t.Limit)
		}
	}
	return nil
}
