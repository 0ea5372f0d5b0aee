package monitoring

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector is the central ingestion and aggregation facade. Request
// middleware and the system sampler write into it; the alert manager, health
// aggregator, and dashboard read aggregates from it. All aggregate queries
// are pure functions of current store contents computed over a consistent
// snapshot.
type Collector struct {
	store  *Store
	logger *zap.Logger

	mu            sync.RWMutex
	totalRequests uint64
	totalErrors   uint64
	rejected      uint64
	endpoints     map[string]*endpointAccumulator
	users         map[int64]*userAccumulator

	startTime time.Time

	registry        *prometheus.Registry
	promRequests    *prometheus.CounterVec
	promDuration    prometheus.Histogram
	promRejected    prometheus.Counter
	promCPU         prometheus.Gauge
	promMemory      prometheus.Gauge
	promDisk        prometheus.Gauge
	promConnections prometheus.Gauge
}

type endpointAccumulator struct {
	method       string
	path         string
	count        int
	errorCount   int
	totalSeconds float64
	lastAccessed time.Time
}

type userAccumulator struct {
	count      int
	errorCount int
	lastActive time.Time
}

// NewCollector creates a collector over the given store. A nil logger
// defaults to a no-op logger.
func NewCollector(store *Store, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		store:     store,
		logger:    logger,
		endpoints: make(map[string]*endpointAccumulator),
		users:     make(map[int64]*userAccumulator),
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}

	c.promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitchensight_requests_total",
		Help: "Completed requests by method and status class.",
	}, []string{"method", "status"})
	c.promDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kitchensight_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	c.promRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensight_rejected_samples_total",
		Help: "Samples rejected at the ingestion boundary.",
	})
	c.promCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensight_cpu_percent",
		Help: "Most recent CPU utilization sample.",
	})
	c.promMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensight_memory_percent",
		Help: "Most recent memory utilization sample.",
	})
	c.promDisk = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensight_disk_percent",
		Help: "Most recent disk utilization sample.",
	})
	c.promConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensight_active_connections",
		Help: "Most recent active connection count sample.",
	})

	c.registry.MustRegister(
		c.promRequests, c.promDuration, c.promRejected,
		c.promCPU, c.promMemory, c.promDisk, c.promConnections,
	)

	return c
}

// Registry exposes the Prometheus registry mirroring the running counters,
// for exposition by the HTTP layer.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest validates and stores a completed-request metric and updates
// the running counters. Invalid samples are rejected, logged, and counted;
// the error is returned for the caller's benefit but recording failures must
// never abort the request path that produced them.
func (c *Collector) RecordRequest(m RequestMetric) error {
	if err := c.rejectIfInvalid(m.Validate(), "request"); err != nil {
		return err
	}

	c.store.RecordRequest(m)

	c.mu.Lock()
	c.totalRequests++
	if m.IsError() {
		c.totalErrors++
	}
	key := m.Method + " " + m.Path
	ep, ok := c.endpoints[key]
	if !ok {
		ep = &endpointAccumulator{method: m.Method, path: m.Path}
		c.endpoints[key] = ep
	}
	ep.count++
	ep.totalSeconds += m.DurationSeconds
	ep.lastAccessed = m.Timestamp
	if m.IsError() {
		ep.errorCount++
	}
	if m.UserID != 0 {
		u, ok := c.users[m.UserID]
		if !ok {
			u = &userAccumulator{}
			c.users[m.UserID] = u
		}
		u.count++
		u.lastActive = m.Timestamp
		if m.IsError() {
			u.errorCount++
		}
	}
	c.mu.Unlock()

	c.promRequests.WithLabelValues(m.Method, strconv.Itoa(m.StatusCode/100)+"xx").Inc()
	c.promDuration.Observe(m.DurationSeconds)

	return nil
}

// RecordSystemSample validates and stores a system resource sample.
func (c *Collector) RecordSystemSample(m SystemMetric) error {
	if err := c.rejectIfInvalid(m.Validate(), "system"); err != nil {
		return err
	}

	c.store.RecordSystem(m)

	c.promCPU.Set(m.CPUPercent)
	c.promMemory.Set(m.MemoryPercent)
	c.promDisk.Set(m.DiskPercent)
	c.promConnections.Set(float64(m.ActiveConnections))

	return nil
}

// ErrorRate returns errors/requests over the window. Defined as 0 when the
// window holds no requests.
func (c *Collector) ErrorRate(window time.Duration) (float64, error) {
	requests, err := c.windowRequests(window)
	if err != nil {
		return 0, err
	}
	if len(requests) == 0 {
		return 0, nil
	}
	errors := 0
	for _, m := range requests {
		if m.IsError() {
			errors++
		}
	}
	return float64(errors) / float64(len(requests)), nil
}

// ResponseTimePercentile returns the nearest-rank percentile (0 < p <= 100)
// of request durations in the window. NaN on an empty window.
func (c *Collector) ResponseTimePercentile(p float64, window time.Duration) (float64, error) {
	if p <= 0 || p > 100 {
		return 0, NewValidationError("percentile %f out of range (0,100]", p)
	}
	requests, err := c.windowRequests(window)
	if err != nil {
		return 0, err
	}
	durations := make([]float64, len(requests))
	for i, m := range requests {
		durations[i] = m.DurationSeconds
	}
	return nearestRank(durations, p), nil
}

// RequestCount returns the number of requests recorded within the window.
func (c *Collector) RequestCount(window time.Duration) (int, error) {
	requests, err := c.windowRequests(window)
	if err != nil {
		return 0, err
	}
	return len(requests), nil
}

// AvgResponseTime returns the mean request duration over the window, 0 when
// the window holds no requests.
func (c *Collector) AvgResponseTime(window time.Duration) (float64, error) {
	requests, err := c.windowRequests(window)
	if err != nil {
		return 0, err
	}
	if len(requests) == 0 {
		return 0, nil
	}
	var sum float64
	for _, m := range requests {
		sum += m.DurationSeconds
	}
	return sum / float64(len(requests)), nil
}

// TopEndpoints groups requests in the window by (method, path) and returns
// the most frequent groups, count descending, ties broken by lexicographic
// path order, truncated to limit.
func (c *Collector) TopEndpoints(window time.Duration, limit int) ([]EndpointCount, error) {
	if limit < 0 {
		return nil, NewValidationError("limit %d is negative", limit)
	}
	requests, err := c.windowRequests(window)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]*EndpointCount)
	for _, m := range requests {
		key := m.Method + " " + m.Path
		ec, ok := counts[key]
		if !ok {
			ec = &EndpointCount{Method: m.Method, Path: m.Path}
			counts[key] = ec
		}
		ec.Count++
	}

	out := make([]EndpointCount, 0, len(counts))
	for _, ec := range counts {
		out = append(out, *ec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ErrorBreakdown groups error responses (status >= 400) in the window by
// error code, falling back to the numeric status code, count descending.
func (c *Collector) ErrorBreakdown(window time.Duration) ([]ErrorCount, error) {
	requests, err := c.windowRequests(window)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, m := range requests {
		if m.IsError() {
			counts[m.ErrorKey()]++
		}
	}

	out := make([]ErrorCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, ErrorCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// RecentErrors returns the most recent error responses within the window,
// newest last, truncated to limit.
func (c *Collector) RecentErrors(window time.Duration, limit int) ([]RequestMetric, error) {
	requests, err := c.windowRequests(window)
	if err != nil {
		return nil, err
	}
	var errors []RequestMetric
	for _, m := range requests {
		if m.IsError() {
			errors = append(errors, m)
		}
	}
	if limit > 0 && len(errors) > limit {
		errors = errors[len(errors)-limit:]
	}
	return errors, nil
}

// EndpointStats returns cumulative per-endpoint statistics since start,
// keyed by "METHOD /path".
func (c *Collector) EndpointStats() map[string]EndpointStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]EndpointStat, len(c.endpoints))
	for key, ep := range c.endpoints {
		out[key] = EndpointStat{
			RequestCount:    ep.count,
			ErrorCount:      ep.errorCount,
			ErrorRate:       float64(ep.errorCount) / float64(ep.count),
			AvgResponseTime: ep.totalSeconds / float64(ep.count),
			LastAccessed:    ep.lastAccessed,
		}
	}
	return out
}

// UserStats returns cumulative per-user activity since start, keyed by user
// id. Anonymous requests (zero user id) are not tracked.
func (c *Collector) UserStats() map[int64]UserStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int64]UserStat, len(c.users))
	for id, u := range c.users {
		out[id] = UserStat{
			RequestCount: u.count,
			ErrorCount:   u.errorCount,
			LastActive:   u.lastActive,
		}
	}
	return out
}

// ActiveUsers returns the distinct user ids seen on requests within the
// window, ascending.
func (c *Collector) ActiveUsers(window time.Duration) ([]int64, error) {
	requests, err := c.windowRequests(window)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	for _, m := range requests {
		if m.UserID != 0 {
			seen[m.UserID] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LatestSystem returns the most recent system sample, if any.
func (c *Collector) LatestSystem() (SystemMetric, bool) {
	return c.store.LatestSystem()
}

// SystemHistory returns retained system samples within the window.
func (c *Collector) SystemHistory(window time.Duration) ([]SystemMetric, error) {
	if window <= 0 {
		return nil, NewValidationError("window %v must be positive", window)
	}
	return c.store.SystemSince(time.Now().Add(-window)), nil
}

// TotalRequests returns the lifetime request count.
func (c *Collector) TotalRequests() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalRequests
}

// TotalErrors returns the lifetime error count.
func (c *Collector) TotalErrors() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalErrors
}

// RejectedSamples returns the count of samples rejected at ingestion.
func (c *Collector) RejectedSamples() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejected
}

// Uptime returns the elapsed time since the collector was constructed.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// LastRecordedAt returns when any metric was last recorded; the collector's
// construction time when nothing has been recorded yet.
func (c *Collector) LastRecordedAt() time.Time {
	if t := c.store.LastRecordedAt(); !t.IsZero() {
		return t
	}
	return c.startTime
}

// Store exposes the underlying sample store for components that read raw
// snapshots (profiler, dashboard).
func (c *Collector) Store() *Store {
	return c.store
}

func (c *Collector) windowRequests(window time.Duration) ([]RequestMetric, error) {
	if window <= 0 {
		return nil, NewValidationError("window %v must be positive", window)
	}
	return c.store.RequestsSince(time.Now().Add(-window)), nil
}

// rejectIfInvalid counts and logs a validation failure. Returns the error
// unchanged (nil passes through).
func (c *Collector) rejectIfInvalid(err error, category string) error {
	if err == nil {
		return nil
	}
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
	c.promRejected.Inc()
	c.logger.Warn("rejected malformed sample",
		zap.String("category", category),
		zap.Error(err),
	)
	return err
}
