package monitoring

import (
	"strconv"
	"time"
)

// RequestMetric describes one completed HTTP request. Immutable once
// recorded; evicted oldest-first when the request history is full.
type RequestMetric struct {
	Timestamp       time.Time `json:"timestamp"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	StatusCode      int       `json:"status_code"`
	DurationSeconds float64   `json:"duration_seconds"`
	UserID          int64     `json:"user_id,omitempty"`
	ErrorCode       string    `json:"error_code,omitempty"`
}

// Validate checks the metric at the ingestion boundary.
func (m RequestMetric) Validate() error {
	if m.Timestamp.IsZero() {
		return NewValidationError("request metric has zero timestamp")
	}
	if m.Method == "" {
		return NewValidationError("request metric has empty method")
	}
	if m.Path == "" {
		return NewValidationError("request metric has empty path")
	}
	if m.StatusCode < 100 || m.StatusCode > 599 {
		return NewValidationError("request metric has invalid status code %d", m.StatusCode)
	}
	if m.DurationSeconds < 0 {
		return NewValidationError("request metric has negative duration %f", m.DurationSeconds)
	}
	return nil
}

// IsError reports whether the request completed with an error status.
func (m RequestMetric) IsError() bool {
	return m.StatusCode >= 400
}

// ErrorKey returns the grouping key for error breakdowns: the explicit error
// code when present, otherwise the numeric status code.
func (m RequestMetric) ErrorKey() string {
	if m.ErrorCode != "" {
		return m.ErrorCode
	}
	return strconv.Itoa(m.StatusCode)
}

// SystemMetric is one periodic system resource sample. Immutable; evicted
// oldest-first.
type SystemMetric struct {
	Timestamp            time.Time `json:"timestamp"`
	CPUPercent           float64   `json:"cpu_percent"`
	MemoryPercent        float64   `json:"memory_percent"`
	DiskPercent          float64   `json:"disk_percent"`
	NetworkBytesSent     uint64    `json:"network_bytes_sent"`
	NetworkBytesReceived uint64    `json:"network_bytes_received"`
	ActiveConnections    int       `json:"active_connections"`
}

// Validate checks the sample at the ingestion boundary.
func (m SystemMetric) Validate() error {
	if m.Timestamp.IsZero() {
		return NewValidationError("system metric has zero timestamp")
	}
	if m.CPUPercent < 0 || m.CPUPercent > 100 {
		return NewValidationError("cpu_percent %f out of range [0,100]", m.CPUPercent)
	}
	if m.MemoryPercent < 0 || m.MemoryPercent > 100 {
		return NewValidationError("memory_percent %f out of range [0,100]", m.MemoryPercent)
	}
	if m.DiskPercent < 0 || m.DiskPercent > 100 {
		return NewValidationError("disk_percent %f out of range [0,100]", m.DiskPercent)
	}
	if m.ActiveConnections < 0 {
		return NewValidationError("active_connections %d is negative", m.ActiveConnections)
	}
	return nil
}

// PerformanceSpan is one timed operation, recorded by the profiler on every
// exit path of the wrapped work.
type PerformanceSpan struct {
	Operation       string    `json:"operation"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`
	Success         bool      `json:"success"`
}

// EndpointCount is one (method, path) group in a top-endpoints listing.
type EndpointCount struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Count  int    `json:"count"`
}

// Endpoint renders the conventional "METHOD /path" form.
func (e EndpointCount) Endpoint() string {
	return e.Method + " " + e.Path
}

// ErrorCount is one error-code group in an error breakdown, ordered by count
// descending.
type ErrorCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// UserStat holds cumulative per-user activity since process start. Only
// requests carrying a user id are tracked.
type UserStat struct {
	RequestCount int       `json:"request_count"`
	ErrorCount   int       `json:"error_count"`
	LastActive   time.Time `json:"last_active"`
}

// EndpointStat holds cumulative per-endpoint statistics since process start.
type EndpointStat struct {
	RequestCount    int       `json:"request_count"`
	ErrorCount      int       `json:"error_count"`
	ErrorRate       float64   `json:"error_rate"`
	AvgResponseTime float64   `json:"avg_response_time"`
	LastAccessed    time.Time `json:"last_accessed"`
}
