package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics holds current process resource measurements
type SystemMetrics struct {
	CPUPercent  float64   // Process CPU usage (100 = one full core)
	MemoryBytes uint64    // Resident set size
	MemoryMB    float64   // Resident set size in MB
	Goroutines  int       // Current goroutine count
	Timestamp   time.Time // When these metrics were captured
}

// SystemMonitor samples the gateway process on an interval and publishes the
// results to Prometheus. Readers get the last sample without touching /proc.
type SystemMonitor struct {
	proc   *process.Process
	logger zerolog.Logger

	mu      sync.RWMutex
	metrics SystemMetrics
}

// NewSystemMonitor attaches to the current process.
func NewSystemMonitor(logger zerolog.Logger) (*SystemMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	m := &SystemMonitor{
		proc:   proc,
		logger: logger.With().Str("component", "system_monitor").Logger(),
	}
	m.collect()
	return m, nil
}

// Run samples every interval until ctx is cancelled.
func (m *SystemMonitor) Run(ctx context.Context, interval time.Duration) {
	defer RecoverPanic(m.logger, "systemMonitor", nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

// Snapshot returns the most recent sample.
func (m *SystemMonitor) Snapshot() SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *SystemMonitor) collect() {
	sample := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	if cpu, err := m.proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	} else {
		m.logger.Debug().Err(err).Msg("Failed to read process CPU")
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		sample.MemoryBytes = mem.RSS
		sample.MemoryMB = float64(mem.RSS) / 1024 / 1024
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("Failed to read process memory")
	}

	m.mu.Lock()
	m.metrics = sample
	m.mu.Unlock()

	cpuUsagePercent.Set(sample.CPUPercent)
	memoryUsageBytes.Set(float64(sample.MemoryBytes))
	goroutinesActive.Set(float64(sample.Goroutines))
}
