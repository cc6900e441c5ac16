package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

var ErrInvalidAlert = errors.New("invalid alert")

// Creator persists alerts. Processors depend on this rather than on Repository.
type Creator interface {
	Create(ctx context.Context, userID string, in CreateInput) (*Alert, error)
}

// Repository handles database operations for alerts
type Repository struct {
	db  bun.IDB
	log *slog.Logger
	now func() time.Time
}

var _ Creator = (*Repository)(nil)

// NewRepository creates a new alerts repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("alerts.repo")),
		now: time.Now,
	}
}

// Create inserts an alert for userID and returns the stored row.
func (r *Repository) Create(ctx context.Context, userID string, in CreateInput) (*Alert, error) {
	if err := validate(userID, in); err != nil {
		return nil, err
	}

	meta := json.RawMessage("{}")
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidAlert, err)
		}
		meta = raw
	}

	alert := &Alert{
		UserID:    userID,
		Type:      in.Type,
		Severity:  in.Severity,
		Title:     in.Title,
		Message:   in.Message,
		Metadata:  meta,
		CreatedAt: r.now(),
	}
	if _, err := r.db.NewInsert().Model(alert).Returning("id").Exec(ctx); err != nil {
		r.log.Error("failed to create alert",
			slog.String("user_id", userID),
			slog.String("type", string(in.Type)),
			logger.Error(err))
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

// ListUnread returns the unread alerts of userID, newest first.
func (r *Repository) ListUnread(ctx context.Context, userID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Alert
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("is_read = false").
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return rows, nil
}

func validate(userID string, in CreateInput) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidAlert)
	}
	switch in.Type {
	case TypeMarket, TypeWeather, TypeSystem:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAlert, in.Type)
	}
	switch in.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidAlert, in.Severity)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidAlert)
	}
	return nil
}
