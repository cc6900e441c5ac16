package syshealth

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

type sysHealthMonitor struct {
	cfg     *Config
	pools   []PoolGauge
	log     *slog.Logger
	metrics *HealthMetrics
	mu      sync.RWMutex

	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool

	lastCPUTimes   *cpu.TimesStat
	consecFailures int

	// collectors, replaced in tests
	getLoadAvg  func(context.Context) (*load.AvgStat, error)
	getCPUTimes func(context.Context, bool) ([]cpu.TimesStat, error)
	getMemStats func(context.Context) (*mem.VirtualMemoryStat, error)
	getCPUCores func() int
}

// NewMonitor creates a system health monitor. cfg may be nil for defaults;
// pools are the connection pools whose utilization counts against the score.
func NewMonitor(cfg *Config, log *slog.Logger, pools ...PoolGauge) Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &sysHealthMonitor{
		cfg:   cfg,
		pools: pools,
		log:   log.With(logger.Scope("syshealth.monitor")),
		metrics: &HealthMetrics{
			Score: 100,
			Zone:  HealthZoneSafe,
		},
		getLoadAvg:  load.AvgWithContext,
		getCPUTimes: cpu.TimesWithContext,
		getMemStats: mem.VirtualMemoryWithContext,
		getCPUCores: runtime.NumCPU,
	}
}

func (m *sysHealthMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.ticker = time.NewTicker(m.cfg.CollectionInterval)

	go func(ticker *time.Ticker, stop <-chan struct{}) {
		m.collect()
		for {
			select {
			case <-ticker.C:
				m.collect()
			case <-stop:
				return
			}
		}
	}(m.ticker, m.stopCh)

	m.log.Info("system health monitor started", slog.Duration("interval", m.cfg.CollectionInterval))
	return nil
}

func (m *sysHealthMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	m.ticker.Stop()
	close(m.stopCh)
	m.log.Info("system health monitor stopped")
	return nil
}

func (m *sysHealthMonitor) GetHealth() *HealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := *m.metrics
	if time.Since(snapshot.Timestamp) > m.cfg.StalenessThreshold {
		snapshot.Stale = true
	}
	return &snapshot
}

func (m *sysHealthMonitor) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CollectionTimeout)
	defer cancel()

	var (
		loadAvg, ioWait, memPercent float64
		loadOK, ioOK, memOK         bool
	)

	if l, err := m.getLoadAvg(ctx); err == nil {
		loadAvg, loadOK = l.Load1, true
	} else {
		m.log.Error("failed to collect load average", logger.Error(err))
	}

	if times, err := m.getCPUTimes(ctx, false); err != nil {
		m.log.Error("failed to collect cpu times", logger.Error(err))
	} else if len(times) == 0 {
		m.log.Error("failed to collect cpu times: no data returned")
	} else {
		t := times[0]
		if m.lastCPUTimes != nil {
			deltaTotal := t.Total() - m.lastCPUTimes.Total()
			if deltaTotal > 0 {
				ioWait = (t.Iowait - m.lastCPUTimes.Iowait) / deltaTotal * 100.0
			}
		}
		m.lastCPUTimes = &t
		ioOK = true
	}

	if v, err := m.getMemStats(ctx); err == nil {
		memPercent, memOK = v.UsedPercent, true
	} else {
		m.log.Error("failed to collect memory stats", logger.Error(err))
	}

	var poolPercent float64
	for _, p := range m.pools {
		pct := p.percent()
		PoolUtilization.WithLabelValues(p.Name).Set(pct)
		if pct > poolPercent {
			poolPercent = pct
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// a failed collector keeps its last known value
	if !loadOK || !ioOK || !memOK {
		m.consecFailures++
		if m.consecFailures >= 3 {
			m.log.Error("persistent metric collection failures", slog.Int("failures", m.consecFailures))
		}
	} else {
		m.consecFailures = 0
	}
	if !loadOK {
		loadAvg = m.metrics.CPULoadAvg
	}
	if !ioOK {
		ioWait = m.metrics.IOWaitPercent
	}
	if !memOK {
		memPercent = m.metrics.MemoryPercent
	}

	cpuCores := float64(m.getCPUCores())
	if cpuCores == 0 {
		cpuCores = 1
	}

	ioScore := componentPenalty(ioWait, m.cfg.IOWaitWarningPercent, m.cfg.IOWaitCriticalPercent)
	cpuScore := componentPenalty(loadAvg/cpuCores*100.0, m.cfg.CPULoadWarningFactor*100.0, m.cfg.CPULoadCriticalFactor*100.0)
	poolScore := componentPenalty(poolPercent, m.cfg.PoolWarningPercent, m.cfg.PoolCriticalPercent)
	memScore := componentPenalty(memPercent, m.cfg.MemoryWarningPercent, m.cfg.MemoryCriticalPercent)

	penalty := (ioScore * 0.40) + (cpuScore * 0.30) + (poolScore * 0.20) + (memScore * 0.10)
	finalScore := 100 - int(penalty)
	if finalScore < 0 {
		finalScore = 0
	}
	newZone := zoneFor(finalScore)

	if newZone != m.metrics.Zone {
		m.log.Warn("system health zone transition",
			slog.String("old_zone", string(m.metrics.Zone)),
			slog.String("new_zone", string(newZone)),
			slog.Int("score", finalScore))
	}

	m.metrics.Score = finalScore
	m.metrics.Zone = newZone
	m.metrics.CPULoadAvg = loadAvg
	m.metrics.IOWaitPercent = ioWait
	m.metrics.MemoryPercent = memPercent
	m.metrics.PoolPercent = poolPercent
	m.metrics.Timestamp = time.Now()
	m.metrics.Stale = false

	HealthScore.WithLabelValues(string(newZone)).Set(float64(finalScore))
	IOWaitPercent.Set(ioWait)
	CPULoadAvg.WithLabelValues("1m").Set(loadAvg)
	MemoryUtilization.Set(memPercent)

	m.log.Debug("system health metrics collected",
		slog.Int("score", finalScore),
		slog.String("zone", string(newZone)),
		slog.Float64("io_wait", ioWait),
		slog.Float64("cpu_load", loadAvg),
		slog.Float64("pool", poolPercent),
		slog.Float64("mem", memPercent))
}

func zoneFor(score int) HealthZone {
	switch {
	case score <= 33:
		return HealthZoneCritical
	case score <= 66:
		return HealthZoneWarning
	default:
		return HealthZoneSafe
	}
}

// componentPenalty maps a reading to a 0, 50 or 100 penalty.
func componentPenalty(value, warning, critical float64) float64 {
	if value >= critical {
		return 100.0
	}
	if value >= warning {
		return 50.0
	}
	return 0.0
}
