// Package sysstats měří vytížení hostitele brány (CPU, RAM, disk) pomocí gopsutil.
package sysstats

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats je jeden snímek stavu systému.
type Stats struct {
	CPULoad float64 `json:"cpuLoad"`

	// RamUsedMB nepočítá diskovou cache (Total - Available).
	RamUsedMB  float64 `json:"ramUsedMB"`
	RamTotalMB float64 `json:"ramTotalMB"`

	// AppRamUsedMB je součet RSS procesů brány.
	AppRamUsedMB float64 `json:"appRamUsedMB"`

	DiskUsedGB  float64 `json:"diskUsedGB"`
	DiskTotalGB float64 `json:"diskTotalGB"`
}

// AppProcesses jsou části názvů procesů, jejichž paměť se sčítá do AppRamUsedMB.
var AppProcesses = []string{
	"console-api",
	"data-persister",
	"log-collector",
	"system-monitor",
	"postgres",
	"redis",
	"influxd",
	"minio",
}

// Collect změří aktuální stav. Měření CPU trvá cpuWindow.
// Dílčí chyby se logují a snímek se vrátí i tak.
func Collect(ctx context.Context, cpuWindow time.Duration, logger *slog.Logger) Stats {
	var stats Stats

	percentages, err := cpu.PercentWithContext(ctx, cpuWindow, false)
	if err == nil && len(percentages) > 0 {
		stats.CPULoad = percentages[0]
	} else {
		logger.Error("Chyba při čtení CPU statistik", "error", err)
	}

	if vMem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.RamUsedMB = float64(vMem.Total-vMem.Available) / 1024.0 / 1024.0
		stats.RamTotalMB = float64(vMem.Total) / 1024.0 / 1024.0
	} else {
		logger.Error("Chyba při čtení RAM statistik", "error", err)
	}

	procs, _ := process.ProcessesWithContext(ctx)
	var appMem uint64
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Proces mohl mezitím skončit.
			continue
		}
		if !matchesApp(name) {
			continue
		}
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			appMem += info.RSS
		}
	}
	stats.AppRamUsedMB = float64(appMem) / 1024.0 / 1024.0

	if dStat, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats.DiskUsedGB = float64(dStat.Used) / 1024.0 / 1024.0 / 1024.0
		stats.DiskTotalGB = float64(dStat.Total) / 1024.0 / 1024.0 / 1024.0
	} else {
		logger.Error("Chyba při čtení statistik disku", "error", err)
	}

	return stats
}

func matchesApp(name string) bool {
	for _, target := range AppProcesses {
		if strings.Contains(name, target) {
			return true
		}
	}
	return false
}

// Sampler měří na pozadí a drží poslední snímek, aby WS smyčky nečekaly na měření CPU.
type Sampler struct {
	interval time.Duration
	logger   *slog.Logger
	collect  func(ctx context.Context) Stats

	mu     sync.RWMutex
	latest Stats
}

// NewSampler vytvoří sampler s periodou interval.
func NewSampler(interval time.Duration, logger *slog.Logger) *Sampler {
	s := &Sampler{interval: interval, logger: logger}
	s.collect = func(ctx context.Context) Stats {
		return Collect(ctx, time.Second, logger)
	}
	return s
}

// Latest vrací poslední změřený snímek.
func (s *Sampler) Latest() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run měří hned a pak každou periodu, dokud ctx neskončí.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		st := s.collect(ctx)
		s.mu.Lock()
		s.latest = st
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
