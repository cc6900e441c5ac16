package queueadmin

import (
	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
)

// RegisterRoutes registers the queue admin routes. Every endpoint requires
// the admin role.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/admin")
	g.Use(authMiddleware.RequireAuth(), authMiddleware.RequireRole(auth.RoleAdmin))

	g.GET("/queues", h.ListQueues)
	g.GET("/queues/:queue", h.GetQueue)
	g.POST("/queues/:queue/pause", h.Pause)
	g.POST("/queues/:queue/resume", h.Resume)
	g.POST("/queues/:queue/drain", h.Drain)

	// Repeat schedules
	g.GET("/queues/:queue/repeats", h.ListRepeats)
	g.DELETE("/queues/:queue/repeats/:key", h.RemoveRepeat)

	g.GET("/jobs/:id", h.GetJob)
}
