package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

var ErrUnknownCommodity = errors.New("unknown commodity")

// Fetcher reads the current quote of a commodity at a market. Failures are
// reported as *fetch.Error.
type Fetcher interface {
	FetchPrice(ctx context.Context, commodity, market string) (*Quote, error)
}

// basePrices are reference prices in BRL per unit.
var basePrices = map[string]struct {
	price float64
	unit  string
}{
	"SOJA":    {135.0, "saca 60kg"},
	"MILHO":   {65.0, "saca 60kg"},
	"CAFE":    {1250.0, "saca 60kg"},
	"TRIGO":   {80.0, "saca 60kg"},
	"ALGODAO": {130.0, "arroba"},
	"BOI":     {230.0, "arroba"},
}

// SimulatedFetcher produces a bounded random walk around reference prices.
// It is the default source outside production.
type SimulatedFetcher struct {
	mu   sync.Mutex
	last map[string]float64
	rng  *rand.Rand
	now  func() time.Time
}

// NewSimulatedFetcher creates a simulated source seeded with seed.
func NewSimulatedFetcher(seed uint64) *SimulatedFetcher {
	return &SimulatedFetcher{
		last: make(map[string]float64),
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:  time.Now,
	}
}

func (f *SimulatedFetcher) FetchPrice(ctx context.Context, commodity, market string) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetch.Error{Source: "simulated", Op: "quote", Err: err}
	}
	base, ok := basePrices[strings.ToUpper(commodity)]
	if !ok {
		return nil, &fetch.Error{
			Source: "simulated",
			Op:     "quote",
			Status: http.StatusNotFound,
			Err:    fmt.Errorf("%w: %s", ErrUnknownCommodity, commodity),
		}
	}

	key := strings.ToUpper(commodity) + ":" + strings.ToUpper(market)
	f.mu.Lock()
	prev, seen := f.last[key]
	if !seen {
		prev = base.price
	}
	// +-3% per tick, kept within +-40% of the reference
	next := prev * (1 + (f.rng.Float64()*6-3)/100)
	next = math.Max(base.price*0.6, math.Min(base.price*1.4, next))
	next = math.Round(next*100) / 100
	f.last[key] = next
	f.mu.Unlock()

	return &Quote{
		Commodity:  strings.ToUpper(commodity),
		Market:     strings.ToUpper(market),
		Price:      next,
		Currency:   "BRL",
		Unit:       base.unit,
		RecordedAt: f.now().UTC(),
	}, nil
}

// HTTPFetcher reads quotes from a JSON price API:
// GET {base}/v1/prices?commodity=SOJA&market=PARANAGUA.
type HTTPFetcher struct {
	client *fetch.Client
	log    *slog.Logger
}

func NewHTTPFetcher(client *fetch.Client, log *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{client: client, log: log.With(logger.Scope("market.fetcher"))}
}

type quoteResponse struct {
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (f *HTTPFetcher) FetchPrice(ctx context.Context, commodity, market string) (*Quote, error) {
	q := url.Values{}
	q.Set("commodity", strings.ToUpper(commodity))
	q.Set("market", strings.ToUpper(market))

	var resp quoteResponse
	if err := f.client.GetJSON(ctx, "/v1/prices", q, &resp); err != nil {
		return nil, err
	}
	if resp.Price <= 0 {
		return nil, &fetch.Error{
			Source: f.client.Source(),
			Op:     "decode",
			Err:    fmt.Errorf("non-positive price %v for %s/%s", resp.Price, commodity, market),
		}
	}

	quote := &Quote{
		Commodity:  strings.ToUpper(commodity),
		Market:     strings.ToUpper(market),
		Price:      resp.Price,
		Currency:   resp.Currency,
		Unit:       resp.Unit,
		RecordedAt: resp.RecordedAt,
	}
	if quote.Currency == "" {
		quote.Currency = "BRL"
	}
	if quote.Unit == "" {
		quote.Unit = "saca 60kg"
	}
	if quote.RecordedAt.IsZero() {
		quote.RecordedAt = time.Now().UTC()
	}
	return quote, nil
}

func (f *SimulatedFetcher) Source() string { return "simulated" }
func (f *HTTPFetcher) Source() string      { return f.client.Source() }

func sourceName(f Fetcher) string {
	if s, ok := f.(interface{ Source() string }); ok {
		return s.Source()
	}
	return "unknown"
}
