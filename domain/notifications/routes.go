package notifications

import (
	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
)

// RegisterRoutes registers notification routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	// All notification endpoints require authentication
	g := e.Group("/api/notifications")
	g.Use(authMiddleware.RequireAuth())

	g.GET("/stats", h.GetStats)
	g.GET("", h.List)
	g.PATCH("/:id/read", h.MarkRead)
	g.POST("/mark-all-read", h.MarkAllRead)
}
