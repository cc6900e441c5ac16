package simulations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

var ErrInvalidModel = errors.New("invalid simulation model")

// checkEvery is how many iterations run between cancellation checks.
const checkEvery = 1024

// Model holds the inputs of one Monte Carlo run.
type Model struct {
	AreaHectares   float64
	ExpectedYield  float64
	YieldStdDev    float64
	ExpectedPrice  float64
	PriceStdDev    float64
	CostPerHectare float64
	Iterations     int
}

// ModelOf reads the model inputs of a stored simulation.
func ModelOf(s *Simulation) Model {
	return Model{
		AreaHectares:   s.AreaHectares,
		ExpectedYield:  s.ExpectedYield,
		YieldStdDev:    s.YieldStdDev,
		ExpectedPrice:  s.ExpectedPrice,
		PriceStdDev:    s.PriceStdDev,
		CostPerHectare: s.CostPerHectare,
		Iterations:     s.Iterations,
	}
}

func (m Model) validate() error {
	switch {
	case m.AreaHectares <= 0:
		return fmt.Errorf("%w: area must be positive", ErrInvalidModel)
	case m.ExpectedYield < 0, m.ExpectedPrice < 0, m.CostPerHectare < 0:
		return fmt.Errorf("%w: negative expectation", ErrInvalidModel)
	case m.YieldStdDev < 0, m.PriceStdDev < 0:
		return fmt.Errorf("%w: negative deviation", ErrInvalidModel)
	case m.Iterations < 1 || m.Iterations > 1_000_000:
		return fmt.Errorf("%w: iterations must be in 1..1000000", ErrInvalidModel)
	}
	return nil
}

// Simulate samples yield and price from independent normal distributions
// (truncated at zero) and reports the resulting profit distribution.
func Simulate(ctx context.Context, m Model, rng *rand.Rand) ([]Scenario, Statistics, error) {
	if err := m.validate(); err != nil {
		return nil, Statistics{}, err
	}

	cost := m.AreaHectares * m.CostPerHectare
	samples := make([]Scenario, m.Iterations)
	for i := range samples {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Statistics{}, err
			}
		}
		y := math.Max(0, m.ExpectedYield+rng.NormFloat64()*m.YieldStdDev)
		p := math.Max(0, m.ExpectedPrice+rng.NormFloat64()*m.PriceStdDev)
		samples[i] = Scenario{Yield: y, Price: p, Profit: m.AreaHectares*y*p - cost}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Profit < samples[j].Profit })

	var sum, losses float64
	for _, s := range samples {
		sum += s.Profit
		if s.Profit < 0 {
			losses++
		}
	}
	n := float64(len(samples))
	mean := sum / n
	var sq float64
	for _, s := range samples {
		sq += (s.Profit - mean) * (s.Profit - mean)
	}

	stats := Statistics{
		Iterations:        len(samples),
		Mean:              round2(mean),
		StdDev:            round2(math.Sqrt(sq / n)),
		P5:                round2(percentile(samples, 0.05).Profit),
		P50:               round2(percentile(samples, 0.50).Profit),
		P95:               round2(percentile(samples, 0.95).Profit),
		ProbabilityOfLoss: round2(losses / n),
	}

	scenarios := []Scenario{
		named("pessimistic", percentile(samples, 0.10)),
		named("expected", percentile(samples, 0.50)),
		named("optimistic", percentile(samples, 0.90)),
		named("worst", samples[0]),
		named("best", samples[len(samples)-1]),
	}
	return scenarios, stats, nil
}

// percentile returns the nearest-rank sample of an ascending slice.
func percentile(sorted []Scenario, q float64) Scenario {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func named(name string, s Scenario) Scenario {
	return Scenario{Name: name, Yield: round2(s.Yield), Price: round2(s.Price), Profit: round2(s.Profit)}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
