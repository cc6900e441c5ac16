package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// stableBand is the absolute change, in percent, still reported as STABLE.
const stableBand = 1.0

// PriceRepository stores price ticks and summarises their trend.
type PriceRepository interface {
	Create(ctx context.Context, price *Price) error
	GetTrend(ctx context.Context, commodity, market string, windowDays int) (*Trend, error)
}

// Repository handles database operations for market prices
type Repository struct {
	db  bun.IDB
	log *slog.Logger
	now func() time.Time
}

var _ PriceRepository = (*Repository)(nil)

// NewRepository creates a new market price repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("market.repo")), now: time.Now}
}

func (r *Repository) Create(ctx context.Context, price *Price) error {
	if _, err := r.db.NewInsert().Model(price).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert price %s/%s: %w", price.Commodity, price.Market, err)
	}
	return nil
}

// GetTrend compares the oldest and newest price recorded in the last windowDays.
func (r *Repository) GetTrend(ctx context.Context, commodity, market string, windowDays int) (*Trend, error) {
	since := r.now().AddDate(0, 0, -windowDays)

	var prices []float64
	err := r.db.NewSelect().
		Model((*Price)(nil)).
		Column("price").
		Where("commodity = ?", commodity).
		Where("market = ?", market).
		Where("recorded_at >= ?", since).
		Order("recorded_at ASC").
		Scan(ctx, &prices)
	if err != nil {
		return nil, fmt.Errorf("price series %s/%s: %w", commodity, market, err)
	}

	trend := ComputeTrend(prices)
	trend.Commodity = commodity
	trend.Market = market
	return &trend, nil
}

// ComputeTrend derives a Trend from a chronologically ordered series.
// Fewer than two samples, or a zero first price, is STABLE.
func ComputeTrend(prices []float64) Trend {
	t := Trend{Direction: DirectionStable, Samples: len(prices)}
	if len(prices) == 0 {
		return t
	}
	t.First = prices[0]
	t.Last = prices[len(prices)-1]
	if len(prices) < 2 || t.First == 0 {
		return t
	}

	change := (t.Last - t.First) / t.First * 100
	t.ChangePercent = math.Round(change*100) / 100
	switch {
	case t.ChangePercent > stableBand:
		t.Direction = DirectionUp
	case t.ChangePercent < -stableBand:
		t.Direction = DirectionDown
	}
	return t
}
