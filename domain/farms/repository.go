package farms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

var ErrNotFound = errors.New("farm not found")

// Finder looks farms up for the weather processor and scheduler.
type Finder interface {
	// FindOne returns the farm only if it belongs to userID.
	FindOne(ctx context.Context, userID, farmID string) (*Farm, error)
	// ListWithCoordinates returns every farm that can receive weather updates.
	ListWithCoordinates(ctx context.Context) ([]Farm, error)
}

// Repository handles database operations for farms
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ Finder = (*Repository)(nil)

// NewRepository creates a new farms repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("farms.repo"))}
}

func (r *Repository) FindOne(ctx context.Context, userID, farmID string) (*Farm, error) {
	farm := new(Farm)
	err := r.db.NewSelect().
		Model(farm).
		Where("id = ?", farmID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, farmID)
	}
	if err != nil {
		return nil, fmt.Errorf("find farm %s: %w", farmID, err)
	}
	return farm, nil
}

func (r *Repository) ListWithCoordinates(ctx context.Context) ([]Farm, error) {
	var rows []Farm
	err := r.db.NewSelect().
		Model(&rows).
		Where("latitude IS NOT NULL").
		Where("longitude IS NOT NULL").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list farms with coordinates: %w", err)
	}
	r.log.Debug("listed farms with coordinates", slog.Int("count", len(rows)))
	return rows, nil
}
