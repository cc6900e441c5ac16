package notifications

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/apperror"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
)

// Handler serves the in-app notification inbox.
type Handler struct {
	inbox Inbox
}

// NewHandler creates a new notifications handler
func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// GetStats handles GET /api/notifications/stats
func (h *Handler) GetStats(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	stats, err := h.inbox.GetStats(c.Request().Context(), user.UserID)
	if err != nil {
		return err
	}

	// Stats returns directly (not wrapped in data)
	return c.JSON(http.StatusOK, stats)
}

// List handles GET /api/notifications
func (h *Handler) List(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.ErrBadRequest.WithMessage("limit must be a positive integer")
		}
		limit = n
	}

	notifications, err := h.inbox.List(c.Request().Context(), user.UserID, c.QueryParam("unread_only") == "true", limit)
	if err != nil {
		return err
	}
	if notifications == nil {
		notifications = []Notification{}
	}

	return c.JSON(http.StatusOK, NotificationListResponse{Data: notifications})
}

// MarkRead handles PATCH /api/notifications/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	notificationID := c.Param("id")
	if notificationID == "" {
		return apperror.ErrBadRequest.WithMessage("notification id is required")
	}

	if err := h.inbox.MarkRead(c.Request().Context(), user.UserID, notificationID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllRead handles POST /api/notifications/mark-all-read
func (h *Handler) MarkAllRead(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	count, err := h.inbox.MarkAllRead(c.Request().Context(), user.UserID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "marked_all_read",
		"count":  count,
	})
}
