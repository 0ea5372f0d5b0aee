package monitoring

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

// SystemSampler periodically reads host resource usage and feeds the samples
// into the collector. Failures to read a sample are logged and the tick is
// skipped; the loop keeps running.
type SystemSampler struct {
	collector *Collector
	interval  time.Duration
	diskPath  string
	logger    *zap.Logger
}

// NewSystemSampler creates a sampler with the given cadence. A zero interval
// defaults to 60 seconds; an empty diskPath defaults to "/".
func NewSystemSampler(collector *Collector, interval time.Duration, logger *zap.Logger) *SystemSampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &SystemSampler{
		collector: collector,
		interval:  interval,
		diskPath:  "/",
		logger:    logger,
	}
}

// Run samples on the configured cadence until ctx is cancelled. It takes one
// sample immediately so health queries have data before the first tick.
func (s *SystemSampler) Run(ctx context.Context) error {
	s.sampleOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *SystemSampler) sampleOnce(ctx context.Context) {
	metric, err := s.read(ctx)
	if err != nil {
		s.logger.Error("failed to read system sample", zap.Error(err))
		return
	}
	if err := s.collector.RecordSystemSample(metric); err != nil {
		s.logger.Error("failed to record system sample", zap.Error(err))
	}
}

func (s *SystemSampler) read(ctx context.Context) (SystemMetric, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return SystemMetric{}, err
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemMetric{}, err
	}

	du, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return SystemMetric{}, err
	}

	var bytesSent, bytesRecv uint64
	if counters, err := gopsnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		bytesSent = counters[0].BytesSent
		bytesRecv = counters[0].BytesRecv
	}

	var connections int
	if conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp"); err == nil {
		connections = len(conns)
	}

	return SystemMetric{
		Timestamp:            time.Now().UTC(),
		CPUPercent:           clampPercent(cpuPercent),
		MemoryPercent:        clampPercent(vm.UsedPercent),
		DiskPercent:          clampPercent(du.UsedPercent),
		NetworkBytesSent:     bytesSent,
		NetworkBytesReceived: bytesRecv,
		ActiveConnections:    connections,
	}, nil
}

// clampPercent guards against platform quirks reporting slightly out-of-range
// utilization values, which would otherwise be rejected at ingestion.
func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
