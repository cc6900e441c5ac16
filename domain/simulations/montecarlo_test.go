package simulations

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseModel() Model {
	return Model{
		AreaHectares:   100,
		ExpectedYield:  60,
		YieldStdDev:    8,
		ExpectedPrice:  130,
		PriceStdDev:    15,
		CostPerHectare: 5000,
		Iterations:     5000,
	}
}

func TestSimulate_DeterministicWithoutVariance(t *testing.T) {
	m := baseModel()
	m.YieldStdDev, m.PriceStdDev, m.Iterations = 0, 0, 10

	scenarios, stats, err := Simulate(context.Background(), m, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	// 100ha * 60 sacas * 130 - 100ha * 5000
	want := 280000.0
	assert.Equal(t, want, stats.Mean)
	assert.Equal(t, 0.0, stats.StdDev)
	assert.Equal(t, 0.0, stats.ProbabilityOfLoss)
	require.Len(t, scenarios, 5)
	for _, s := range scenarios {
		assert.Equal(t, want, s.Profit)
	}
}

func TestSimulate_Distribution(t *testing.T) {
	scenarios, stats, err := Simulate(context.Background(), baseModel(), rand.New(rand.NewPCG(42, 7)))
	require.NoError(t, err)

	assert.Equal(t, 5000, stats.Iterations)
	assert.InDelta(t, 280000, stats.Mean, 20000)
	assert.Less(t, stats.P5, stats.P50)
	assert.Less(t, stats.P50, stats.P95)
	assert.Greater(t, stats.ProbabilityOfLoss, 0.0)
	assert.Less(t, stats.ProbabilityOfLoss, 0.5)

	byName := map[string]Scenario{}
	for _, s := range scenarios {
		byName[s.Name] = s
	}
	assert.LessOrEqual(t, byName["worst"].Profit, byName["pessimistic"].Profit)
	assert.LessOrEqual(t, byName["pessimistic"].Profit, byName["expected"].Profit)
	assert.LessOrEqual(t, byName["expected"].Profit, byName["optimistic"].Profit)
	assert.LessOrEqual(t, byName["optimistic"].Profit, byName["best"].Profit)
}

func TestSimulate_InvalidModel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Model)
	}{
		{name: "no area", mutate: func(m *Model) { m.AreaHectares = 0 }},
		{name: "negative price", mutate: func(m *Model) { m.ExpectedPrice = -1 }},
		{name: "negative deviation", mutate: func(m *Model) { m.YieldStdDev = -2 }},
		{name: "no iterations", mutate: func(m *Model) { m.Iterations = 0 }},
		{name: "too many iterations", mutate: func(m *Model) { m.Iterations = 2_000_000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := baseModel()
			tt.mutate(&m)
			_, _, err := Simulate(context.Background(), m, rand.New(rand.NewPCG(1, 1)))
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestSimulate_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Simulate(ctx, baseModel(), rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}
