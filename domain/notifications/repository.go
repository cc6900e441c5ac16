package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/apperror"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Store persists in-app notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
}

// Inbox is the read side used by the HTTP handler.
type Inbox interface {
	GetStats(ctx context.Context, userID string) (*NotificationStats, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Repository handles database operations for notifications
type Repository struct {
	db  bun.IDB
	log *slog.Logger
	now func() time.Time
}

var (
	_ Store = (*Repository)(nil)
	_ Inbox = (*Repository)(nil)
)

// NewRepository creates a new notifications repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("notifications.repo")),
		now: time.Now,
	}
}

// Create inserts n and fills its id.
func (r *Repository) Create(ctx context.Context, n *Notification) error {
	if len(n.Metadata) == 0 {
		n.Metadata = json.RawMessage("{}")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	if _, err := r.db.NewInsert().Model(n).Returning("id").Exec(ctx); err != nil {
		r.log.Error("failed to create notification", slog.String("user_id", n.UserID), logger.Error(err))
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetStats returns notification statistics for a user
func (r *Repository) GetStats(ctx context.Context, userID string) (*NotificationStats, error) {
	total, err := r.db.NewSelect().
		Model((*Notification)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count notifications", logger.Error(err))
		return nil, apperror.ErrInternal.WithInternal(err)
	}

	unread, err := r.db.NewSelect().
		Model((*Notification)(nil)).
		Where("user_id = ?", userID).
		Where("is_read = false").
		Count(ctx)
	if err != nil {
		r.log.Error("failed to count unread notifications", logger.Error(err))
		return nil, apperror.ErrInternal.WithInternal(err)
	}

	return &NotificationStats{Unread: int64(unread), Total: int64(total)}, nil
}

// List returns the newest notifications of a user.
func (r *Repository) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var notifications []Notification
	q := r.db.NewSelect().
		Model(&notifications).
		Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = false")
	}
	if err := q.Order("created_at DESC").Limit(limit).Scan(ctx); err != nil {
		r.log.Error("failed to list notifications", logger.Error(err))
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return notifications, nil
}

// MarkRead marks a notification as read
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID string) error {
	result, err := r.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("is_read = ?", true).
		Where("id = ?", notificationID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to mark notification as read", logger.Error(err))
		return apperror.ErrInternal.WithInternal(err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperror.ErrNotFound.WithMessage("Notification not found")
	}
	return nil
}

// MarkAllRead marks all notifications as read for a user
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("is_read = ?", true).
		Where("user_id = ?", userID).
		Where("is_read = ?", false).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to mark all notifications as read", logger.Error(err))
		return 0, apperror.ErrInternal.WithInternal(err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}
