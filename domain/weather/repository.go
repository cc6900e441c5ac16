package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// ClimateRepository stores weather readings per farm.
type ClimateRepository interface {
	Create(ctx context.Context, userID string, data *ClimateData) error
	// LatestForFarm returns the newest reading of farmID, or nil when there is none.
	LatestForFarm(ctx context.Context, farmID string) (*ClimateData, error)
}

// Repository handles database operations for climate data
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ ClimateRepository = (*Repository)(nil)

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("weather.repo"))}
}

func (r *Repository) Create(ctx context.Context, userID string, data *ClimateData) error {
	data.UserID = userID
	if _, err := r.db.NewInsert().Model(data).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert climate data for farm %s: %w", data.FarmID, err)
	}
	return nil
}

func (r *Repository) LatestForFarm(ctx context.Context, farmID string) (*ClimateData, error) {
	data := new(ClimateData)
	err := r.db.NewSelect().
		Model(data).
		Where("farm_id = ?", farmID).
		Order("recorded_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest climate data for farm %s: %w", farmID, err)
	}
	return data, nil
}
