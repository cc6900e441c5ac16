package syshealth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_system_health_score",
		Help: "Overall system health score (0-100)",
	}, []string{"zone"})

	IOWaitPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lavra_system_io_wait_percent",
		Help: "System I/O wait percentage",
	})

	CPULoadAvg = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_system_cpu_load_avg",
		Help: "System CPU load average",
	}, []string{"period"})

	MemoryUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lavra_system_memory_utilization_percent",
		Help: "System memory utilization percentage",
	})

	PoolUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_system_pool_utilization_percent",
		Help: "Connection pool utilization percentage (postgres, redis)",
	}, []string{"pool"})

	// Queue pool scaling
	QueueConcurrency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_queue_scaled_concurrency",
		Help: "Concurrency the health scaler currently allows for a queue",
	}, []string{"queue"})

	QueueAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavra_queue_concurrency_adjustments_total",
		Help: "Concurrency adjustments performed by the health scaler",
	}, []string{"queue", "direction", "zone"})
)
