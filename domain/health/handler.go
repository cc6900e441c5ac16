package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/version"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/syshealth"
)

const probeTimeout = 5 * time.Second

// Handler handles health check requests
type Handler struct {
	probes  []Probe
	monitor syshealth.Monitor
	cfg     *config.Config
	startAt time.Time
}

// NewHandler creates a new health handler. monitor may be nil.
func NewHandler(probes []Probe, monitor syshealth.Monitor, cfg *config.Config) *Handler {
	return &Handler{
		probes:  probes,
		monitor: monitor,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// run executes every probe concurrently and reports whether all critical
// probes passed.
func (h *Handler) run(ctx context.Context) (map[string]Check, bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	checks := make(map[string]Check, len(h.probes))
	ok, degraded := true, false

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			err := p.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[p.Name] = Check{Status: statusHealthy}
				return
			}
			if p.Critical {
				ok = false
				checks[p.Name] = Check{Status: statusUnhealthy, Message: err.Error()}
				return
			}
			degraded = true
			checks[p.Name] = Check{Status: statusDegraded, Message: err.Error()}
		}(p)
	}
	wg.Wait()
	return checks, ok, degraded
}

// Health returns the overall service health
func (h *Handler) Health(c echo.Context) error {
	checks, ok, degraded := h.run(c.Request().Context())

	overall := statusHealthy
	switch {
	case !ok:
		overall = statusUnhealthy
	case degraded:
		overall = statusDegraded
	}

	statusCode := http.StatusOK
	if !ok {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	})
}

// Healthz returns a simple health check (for k8s liveness probe)
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness status (for k8s readiness probe)
func (h *Handler) Ready(c echo.Context) error {
	checks, ok, _ := h.run(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": checks,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Debug returns runtime and host information (not in production)
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.IsProduction() {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
		"queue_backend": h.cfg.Queue.Backend,
	}
	if h.monitor != nil {
		if m := h.monitor.GetHealth(); m != nil {
			out["host"] = map[string]any{
				"score":         m.Score,
				"zone":          m.Zone,
				"cpu_load_avg":  m.CPULoadAvg,
				"io_wait_pct":   m.IOWaitPercent,
				"memory_pct":    m.MemoryPercent,
				"pool_pct":      m.PoolPercent,
				"collected_at":  m.Timestamp,
				"metrics_stale": m.Stale,
			}
		}
	}
	return c.JSON(http.StatusOK, out)
}
