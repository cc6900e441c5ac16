package syshealth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
)

func TestIntegration_HealthScalerLoop_Manual(t *testing.T) {
	// 1. Setup Monitor (don't Start() the background loop)
	cfg := DefaultConfig()
	m := NewMonitor(cfg, slog.Default()).(*sysHealthMonitor)

	// Mock metrics to Safe state initially
	m.getCPUCores = func() int { return 4 }
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 1.0}, nil
	}
	m.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 50.0}, nil
	}

	// First call to establish baseline for CPU delta
	m.getCPUTimes = func(ctx context.Context, b bool) ([]cpu.TimesStat, error) {
		return []cpu.TimesStat{{User: 100, System: 50, Idle: 850, Iowait: 0}}, nil
	}
	m.collect()
	assert.Equal(t, 100, m.GetHealth().Score)
	assert.Equal(t, HealthZoneSafe, m.GetHealth().Zone)

	// 2. Setup Scaler
	scaler := NewConcurrencyScaler(m, "simulation", true, 1, 10)
	assert.Equal(t, 10, scaler.GetConcurrency(0))

	// 3. Simulate Health Degradation
	// Inject High I/O wait and High Load -> Critical Zone
	m.getCPUTimes = func(ctx context.Context, b bool) ([]cpu.TimesStat, error) {
		// deltaTotal = 100, deltaIOWait = 80 -> 80%
		return []cpu.TimesStat{{User: 110, System: 60, Idle: 850, Iowait: 80}}, nil
	}
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 20.0}, nil // 20 / 4 = 5.0 (> 3.0 Critical factor)
	}

	m.collect()
	assert.Equal(t, HealthZoneCritical, m.GetHealth().Zone)

	// Scaler should bypass cooldown and drop to min immediately
	assert.Equal(t, 1, scaler.GetConcurrency(0))

	// 4. Simulate Partial Recovery
	// Warning Zone
	m.getCPUTimes = func(ctx context.Context, b bool) ([]cpu.TimesStat, error) {
		// deltaTotal = 100, deltaIOWait = 45 -> 45%
		return []cpu.TimesStat{{User: 145, System: 70, Idle: 850, Iowait: 125}}, nil
	}
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 1.0}, nil // Safe
	}

	m.collect()
	assert.Equal(t, HealthZoneWarning, m.GetHealth().Zone)

	// Should stay at 1 because of increase cooldown (5 minutes)
	assert.Equal(t, 1, scaler.GetConcurrency(0))

	// 5. Test Multiple Workers with shared Monitor
	scaler2 := NewConcurrencyScaler(m, "weather", true, 2, 20)

	// Critical zone again
	m.getCPUTimes = func(ctx context.Context, b bool) ([]cpu.TimesStat, error) {
		// deltaTotal = 100, deltaIOWait = 80 -> 80%
		return []cpu.TimesStat{{User: 155, System: 80, Idle: 850, Iowait: 205}}, nil
	}
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 20.0}, nil
	}

	m.collect()
	assert.Equal(t, 1, scaler.GetConcurrency(0))
	assert.Equal(t, 2, scaler2.GetConcurrency(0))
}

func TestIntegration_AdjustmentsArePublished(t *testing.T) {
	m := &mockMonitorForIntegration{
		health: &HealthMetrics{Zone: HealthZoneSafe, Score: 100},
	}
	scaler := NewConcurrencyScaler(m, "notification", true, 1, 10)
	assert.Equal(t, 10, scaler.GetConcurrency(10))

	m.health.Zone = HealthZoneCritical
	assert.Equal(t, 1, scaler.GetConcurrency(10))

	assert.Equal(t, 1.0, promtest.ToFloat64(QueueAdjustments.WithLabelValues("notification", "down", "critical")))
	assert.Equal(t, 1.0, promtest.ToFloat64(QueueConcurrency.WithLabelValues("notification")))
}

func TestIntegration_ConfigurationUpdates(t *testing.T) {
	m := &mockMonitorForIntegration{
		health: &HealthMetrics{Zone: HealthZoneSafe},
	}
	scaler := NewConcurrencyScaler(m, "simulation", true, 1, 10)

	assert.Equal(t, 10, scaler.GetConcurrency(0))

	scaler.UpdateConfig(true, 5, 50)

	// growing to the new max still honours the cooldown and the 50% step
	scaler.lastAdjustment = time.Now().Add(-6 * time.Minute)
	assert.Equal(t, 15, scaler.GetConcurrency(0))

	scaler.UpdateConfig(false, 5, 50)
	assert.Equal(t, 100, scaler.GetConcurrency(100))
}

type mockMonitorForIntegration struct {
	health *HealthMetrics
}

func (m *mockMonitorForIntegration) Start() error { return nil }
func (m *mockMonitorForIntegration) Stop() error  { return nil }
func (m *mockMonitorForIntegration) GetHealth() *HealthMetrics {
	return m.health
}
