// Process and host resource sampling for the simulation runtime
package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"uavsim/internal/logging"
	"uavsim/internal/telemetry"
)

const (
	// DefaultInterval between resource samples.
	DefaultInterval = 5 * time.Second
	// DefaultRetention bounds the in-memory sample history.
	DefaultRetention = 120
)

// sampler abstracts the gopsutil calls so tests can substitute a fake.
type sampler interface {
	sample() (telemetry.PerformanceMetrics, error)
}

// hostSampler reads CPU, memory, and disk usage from the host plus runtime
// stats from the Go process.
type hostSampler struct{}

func (hostSampler) sample() (telemetry.PerformanceMetrics, error) {
	start := time.Now()
	m := telemetry.PerformanceMetrics{Timestamp: start.UTC()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	} else if err != nil {
		return m, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return m, err
	}
	m.MemPercent = vm.UsedPercent
	du, err := disk.Usage("/")
	if err != nil {
		return m, err
	}
	m.DiskPercent = du.UsedPercent

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAllocMB = float64(ms.HeapAlloc) / (1024 * 1024)
	m.SampleMillis = time.Since(start).Milliseconds()
	return m, nil
}

// Collector periodically samples resource usage and keeps a bounded history.
// Sampling syscalls run outside the lock so readers never wait on the OS.
type Collector struct {
	interval  time.Duration
	retention int
	sampler   sampler

	mu      sync.RWMutex
	history []telemetry.PerformanceMetrics
	current telemetry.PerformanceMetrics
	haveAny bool

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// New creates a collector with the given interval and history retention.
// Zero values fall back to the defaults.
func New(interval time.Duration, retention int) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Collector{
		interval:  interval,
		retention: retention,
		sampler:   hostSampler{},
	}
}

// Start launches the sampling loop. Starting a running collector is a no-op.
func (c *Collector) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(ctx, c.stop, c.done)
}

// Stop halts the sampling loop and waits for it to exit. Stopping a stopped
// collector is a no-op. Collected history remains readable.
func (c *Collector) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
	c.done = nil
}

func (c *Collector) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	log := logging.FromContext(ctx)
	log.Info("metrics collector running", "interval", c.interval)

	c.collect(log)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect(log)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// collect takes one sample and appends it to the history.
func (c *Collector) collect(log *slog.Logger) {
	m, err := c.sampler.sample()
	if err != nil {
		log.Warn("resource sample failed", "err", err)
		return
	}
	c.mu.Lock()
	c.current = m
	c.haveAny = true
	c.history = append(c.history, m)
	if len(c.history) > c.retention {
		c.history = c.history[len(c.history)-c.retention:]
	}
	c.mu.Unlock()
}

// Current returns the most recent sample. ok is false before the first
// successful sample.
func (c *Collector) Current() (telemetry.PerformanceMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.haveAny
}

// History returns a copy of the retained samples, oldest first.
func (c *Collector) History() []telemetry.PerformanceMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]telemetry.PerformanceMetrics(nil), c.history...)
}
