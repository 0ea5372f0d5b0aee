package monitoring

import (
	"context"
	"math"
	"sort"
	"time"
)

// ChartPoint is one time bucket of a chart series. Buckets containing no
// samples are omitted from the series entirely, so "no data" is
// distinguishable from a zero value.
type ChartPoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Value       float64   `json:"value"`
}

// Overview is the dashboard summary projection. P95Seconds is nil when the
// 24 hour window holds no requests; a plain NaN would not survive JSON
// encoding.
type Overview struct {
	Timestamp    time.Time       `json:"timestamp"`
	Health       HealthStatus    `json:"health"`
	ErrorRate24h float64         `json:"error_rate_24h"`
	P95Seconds   *float64        `json:"p95_24h"`
	TopEndpoints []EndpointCount `json:"top_endpoints"`
	ActiveAlerts []Alert         `json:"active_alerts"`
	RequestTrend string          `json:"request_trend"`
}

// Dashboard provides read-only projections over collector and alert state
// for chart and summary consumption. Stateless.
type Dashboard struct {
	collector *Collector
	alerts    *AlertManager
	health    *HealthAggregator
}

// NewDashboard creates a dashboard over the given components.
func NewDashboard(collector *Collector, alerts *AlertManager, health *HealthAggregator) *Dashboard {
	return &Dashboard{
		collector: collector,
		alerts:    alerts,
		health:    health,
	}
}

// Overview returns the summary projection: current health, 24 hour error
// rate and p95, the ten busiest endpoints, active alerts, and the request
// trend (last hour versus the 24 hour hourly average).
func (d *Dashboard) Overview(ctx context.Context) Overview {
	const day = 24 * time.Hour

	errorRate, _ := d.collector.ErrorRate(day)
	p95, _ := d.collector.ResponseTimePercentile(95, day)
	top, _ := d.collector.TopEndpoints(day, 10)

	var active []Alert
	if d.alerts != nil {
		active = d.alerts.ActiveAlerts()
	}

	return Overview{
		Timestamp:    time.Now().UTC(),
		Health:       d.health.BasicHealth(ctx),
		ErrorRate24h: errorRate,
		P95Seconds:   floatOrNil(p95),
		TopEndpoints: top,
		ActiveAlerts: active,
		RequestTrend: d.requestTrend(),
	}
}

// floatOrNil drops NaN aggregates (empty-window percentiles) so the overview
// stays JSON-encodable.
func floatOrNil(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// requestTrend compares the last hour's request count against the 24 hour
// hourly average: increasing above 1.2x, decreasing below 0.8x.
func (d *Dashboard) requestTrend() string {
	hourCount, err := d.collector.RequestCount(time.Hour)
	if err != nil {
		return "stable"
	}
	dayCount, err := d.collector.RequestCount(24 * time.Hour)
	if err != nil || dayCount == 0 {
		return "stable"
	}

	hourlyAvg := float64(dayCount) / 24
	if hourlyAvg == 0 {
		return "stable"
	}
	ratio := float64(hourCount) / hourlyAvg
	switch {
	case ratio > 1.2:
		return "increasing"
	case ratio < 0.8:
		return "decreasing"
	default:
		return "stable"
	}
}

// ChartSeries buckets stored samples into fixed-width time buckets covering
// the last hours hours. Gauge metrics (cpu_percent, memory_percent,
// disk_percent, avg_response_time) report the per-bucket mean; counter
// metrics (request_count, error_count) report the per-bucket sum. Buckets
// are returned ascending by start time; empty buckets are absent.
func (d *Dashboard) ChartSeries(metricKey string, hours, intervalMinutes int) ([]ChartPoint, error) {
	if hours <= 0 {
		return nil, NewValidationError("hours %d must be positive", hours)
	}
	if intervalMinutes <= 0 {
		return nil, NewValidationError("interval_minutes %d must be positive", intervalMinutes)
	}

	window := time.Duration(hours) * time.Hour
	interval := time.Duration(intervalMinutes) * time.Minute
	start := time.Now().Add(-window)

	switch metricKey {
	case MetricCPUPercent, MetricMemoryPercent, MetricDiskPercent:
		samples := d.collector.Store().SystemSince(start)
		return bucketize(samples, start, interval, true, func(m SystemMetric) (time.Time, float64) {
			switch metricKey {
			case MetricCPUPercent:
				return m.Timestamp, m.CPUPercent
			case MetricMemoryPercent:
				return m.Timestamp, m.MemoryPercent
			default:
				return m.Timestamp, m.DiskPercent
			}
		}), nil
	case "avg_response_time":
		requests := d.collector.Store().RequestsSince(start)
		return bucketize(requests, start, interval, true, func(m RequestMetric) (time.Time, float64) {
			return m.Timestamp, m.DurationSeconds
		}), nil
	case "request_count":
		requests := d.collector.Store().RequestsSince(start)
		return bucketize(requests, start, interval, false, func(m RequestMetric) (time.Time, float64) {
			return m.Timestamp, 1
		}), nil
	case "error_count":
		requests := d.collector.Store().RequestsSince(start)
		return bucketize(requests, start, interval, false, func(m RequestMetric) (time.Time, float64) {
			if m.IsError() {
				return m.Timestamp, 1
			}
			return m.Timestamp, 0
		}), nil
	default:
		return nil, NewValidationError("unknown chart metric %q", metricKey)
	}
}

// bucketize assigns samples to fixed-width buckets anchored at start. When
// mean is true the bucket value is the average of sample values; otherwise
// the sum. Samples before start are dropped; buckets with no samples do not
// appear in the output.
func bucketize[T any](samples []T, start time.Time, interval time.Duration, mean bool, extract func(T) (time.Time, float64)) []ChartPoint {
	type bucketAcc struct {
		sum   float64
		count int
	}
	buckets := make(map[int64]*bucketAcc)

	for _, s := range samples {
		ts, value := extract(s)
		if ts.Before(start) {
			continue
		}
		idx := int64(ts.Sub(start) / interval)
		acc, ok := buckets[idx]
		if !ok {
			acc = &bucketAcc{}
			buckets[idx] = acc
		}
		acc.sum += value
		acc.count++
	}

	indexes := make([]int64, 0, len(buckets))
	for idx := range buckets {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]ChartPoint, 0, len(indexes))
	for _, idx := range indexes {
		acc := buckets[idx]
		value := acc.sum
		if mean {
			value = acc.sum / float64(acc.count)
		}
		out = append(out, ChartPoint{
			BucketStart: start.Add(time.Duration(idx) * interval),
			Value:       value,
		})
	}
	return out
}
