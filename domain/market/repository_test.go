package market

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name      string
		prices    []float64
		direction Direction
		change    float64
	}{
		{name: "empty", direction: DirectionStable},
		{name: "single sample", prices: []float64{130}, direction: DirectionStable},
		{name: "up 15 percent", prices: []float64{120, 125, 138}, direction: DirectionUp, change: 15},
		{name: "down", prices: []float64{200, 150}, direction: DirectionDown, change: -25},
		{name: "within stable band", prices: []float64{100, 100.8}, direction: DirectionStable, change: 0.8},
		{name: "zero first price", prices: []float64{0, 10}, direction: DirectionStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTrend(tt.prices)
			assert.Equal(t, tt.direction, got.Direction)
			assert.InDelta(t, tt.change, got.ChangePercent, 1e-9)
			assert.Equal(t, len(tt.prices), got.Samples)
		})
	}
}

func TestRepository_Create(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewRepository(db, testutil.NewLogger())

	mock.ExpectQuery(`INSERT INTO "market_prices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("0b6a4f0e-51b3-4c61-9f7f-1d1f5c3a2b77"))

	p := &Price{Commodity: "SOJA", Market: "PARANAGUA", Price: 140, Currency: "BRL", Unit: "saca 60kg", Source: "simulated", RecordedAt: t0}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.Equal(t, "0b6a4f0e-51b3-4c61-9f7f-1d1f5c3a2b77", p.ID)
}

func TestRepository_GetTrend(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewRepository(db, testutil.NewLogger())
	repo.now = func() time.Time { return t0 }

	mock.ExpectQuery(`SELECT "mp"."price" FROM "market_prices" AS "mp" WHERE \(commodity = 'SOJA'\) AND \(market = 'PARANAGUA'\) AND \(recorded_at >= '2026-01-31.*'\) ORDER BY recorded_at ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"price"}).AddRow(120.0).AddRow(131.0).AddRow(138.0))

	trend, err := repo.GetTrend(context.Background(), "SOJA", "PARANAGUA", 30)
	require.NoError(t, err)
	assert.Equal(t, DirectionUp, trend.Direction)
	assert.InDelta(t, 15.0, trend.ChangePercent, 1e-9)
	assert.Equal(t, "SOJA", trend.Commodity)
	assert.Equal(t, 3, trend.Samples)
}
