// Package monitor exposes host metrics and debug endpoints while a benchmark
// runs.
package monitor

import (
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time reading of host resource usage.
type Snapshot struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	DiskPath    string  `json:"disk_path,omitempty"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("cpu %.1f%%, mem %.1f%%, disk %.1f%% (%s)", s.CPUPercent, s.MemPercent, s.DiskPercent, s.DiskPath)
}

// SystemCollector periodically samples CPU, memory and disk usage and
// publishes them via expvar.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Float
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger

	mu   sync.Mutex
	last Snapshot
}

// NewSystemCollector creates a new collector.
// diskPath should be the path of the disk to monitor (e.g., the data directory).
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SystemCollector{
		cpuUsagePercent: publishExpvarFloat("system_cpu_usage_percent"),
		memUsagePercent: publishExpvarFloat("system_mem_usage_percent"),
		diskUsage:       publishExpvarFloat("system_disk_usage_percent"),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
		last:            Snapshot{DiskPath: diskPath},
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
// It is safe to call Stop more than once.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		sc.logger.Info("Stopping system metrics collector")
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

// Snapshot returns the most recent reading.
func (sc *SystemCollector) Snapshot() Snapshot {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.last
}

// Collect takes one reading immediately. cpuWindow is how long CPU usage is
// measured for; zero compares against the previous call.
func (sc *SystemCollector) Collect(cpuWindow time.Duration) Snapshot {
	sc.mu.Lock()
	snap := sc.last
	sc.mu.Unlock()

	if cpuPercentages, err := cpu.Percent(cpuWindow, false); err == nil && len(cpuPercentages) > 0 {
		snap.CPUPercent = cpuPercentages[0]
		sc.cpuUsagePercent.Set(snap.CPUPercent)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemPercent = vm.UsedPercent
		sc.memUsagePercent.Set(snap.MemPercent)
	}
	if sc.diskPath != "" {
		if du, err := disk.Usage(sc.diskPath); err == nil {
			snap.DiskPercent = du.UsedPercent
			sc.diskUsage.Set(snap.DiskPercent)
		} else {
			sc.logger.Debug("Disk usage unavailable", "path", sc.diskPath, "error", err)
		}
	}

	sc.mu.Lock()
	sc.last = snap
	sc.mu.Unlock()
	return snap
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	// The CPU window stays below the tick interval so a measurement finishes
	// before the next tick arrives.
	window := sc.interval - sc.interval/4
	for {
		select {
		case <-ticker.C:
			sc.Collect(window)
		case <-sc.stopChan:
			return
		}
	}
}

// publishExpvarFloat returns the expvar.Float registered under name, creating
// it if needed and resetting it otherwise. expvar panics on duplicate
// registration, which would happen when a collector is created twice in one
// process.
func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}
