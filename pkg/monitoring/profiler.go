package monitoring

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OperationStats summarizes the retained spans of one operation.
type OperationStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Profiler measures the wall-clock duration of named units of work and
// records a PerformanceSpan on every exit path, success or failure. Spans
// are retained per operation name in the store's bounded rings.
type Profiler struct {
	store         *Store
	logger        *zap.Logger
	slowThreshold time.Duration
}

// NewProfiler creates a profiler recording into store. Operations slower
// than slowThreshold are logged at warn level; zero disables slow-operation
// logging. A nil logger defaults to a no-op logger.
func NewProfiler(store *Store, slowThreshold time.Duration, logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{
		store:         store,
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

// Span is a handle for one in-progress measured operation. Obtain it before
// the operation and call End on every exit path; End records exactly one
// span regardless of how many times it is called.
type Span struct {
	profiler *Profiler
	op       string
	start    time.Time
	once     sync.Once
}

// Start begins measuring the named operation.
func (p *Profiler) Start(operation string) *Span {
	return &Span{
		profiler: p,
		op:       operation,
		start:    time.Now(),
	}
}

// End records the span. A non-nil err marks the span unsuccessful. Repeat
// calls are no-ops.
func (s *Span) End(err error) {
	s.once.Do(func() {
		duration := time.Since(s.start)
		s.profiler.record(s.op, duration, err == nil)
	})
}

// Measure executes work, records a span for it whether it succeeds, returns
// an error, or panics, and propagates the outcome unchanged. A panic is
// recorded as a failed span and re-raised.
func (p *Profiler) Measure(operation string, work func() error) (err error) {
	span := p.Start(operation)
	defer func() {
		if r := recover(); r != nil {
			span.End(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err = work()
	span.End(err)
	return err
}

// Percentiles computes nearest-rank percentiles (0 < p <= 100) over span
// durations for the operation within the window. Percentiles requested on an
// empty window are NaN rather than an error; an unknown operation behaves as
// an empty window.
func (p *Profiler) Percentiles(operation string, ps []float64, window time.Duration) (map[float64]float64, error) {
	if window <= 0 {
		return nil, NewValidationError("window %v must be positive", window)
	}
	for _, pct := range ps {
		if pct <= 0 || pct > 100 {
			return nil, NewValidationError("percentile %f out of range (0,100]", pct)
		}
	}

	spans := p.store.SpansSince(operation, time.Now().Add(-window))
	durations := make([]float64, len(spans))
	for i, sp := range spans {
		durations[i] = sp.DurationSeconds
	}

	out := make(map[float64]float64, len(ps))
	for _, pct := range ps {
		out[pct] = nearestRank(durations, pct)
	}
	return out, nil
}

// Stats summarizes all retained spans for the operation. A zero Count means
// no spans are retained; the remaining fields are then meaningless.
func (p *Profiler) Stats(operation string) OperationStats {
	spans := p.store.SpansSince(operation, time.Time{})
	if len(spans) == 0 {
		return OperationStats{}
	}

	durations := make([]float64, len(spans))
	min, max, sum := math.MaxFloat64, 0.0, 0.0
	for i, sp := range spans {
		d := sp.DurationSeconds
		durations[i] = d
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	return OperationStats{
		Count: len(spans),
		Avg:   sum / float64(len(spans)),
		Min:   min,
		Max:   max,
		P50:   nearestRank(durations, 50),
		P95:   nearestRank(durations, 95),
		P99:   nearestRank(durations, 99),
	}
}

// Operations lists the operation names with retained spans.
func (p *Profiler) Operations() []string {
	return p.store.Operations()
}

func (p *Profiler) record(operation string, duration time.Duration, success bool) {
	p.store.RecordSpan(PerformanceSpan{
		Operation:       operation,
		Timestamp:       time.Now(),
		DurationSeconds: duration.Seconds(),
		Success:         success,
	})

	if p.slowThreshold > 0 && duration > p.slowThreshold {
		p.logger.Warn("slow operation detected",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.Duration("threshold", p.slowThreshold),
		)
	}
}
