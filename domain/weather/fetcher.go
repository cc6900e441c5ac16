package weather

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Fetcher reads current conditions at a coordinate. Failures are reported
// as *fetch.Error.
type Fetcher interface {
	FetchWeather(ctx context.Context, latitude, longitude float64) (*Reading, error)
}

// SimulatedFetcher produces plausible readings for a tropical climate.
type SimulatedFetcher struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewSimulatedFetcher(seed uint64) *SimulatedFetcher {
	return &SimulatedFetcher{
		rng: rand.New(rand.NewPCG(seed, seed>>1|1)),
		now: time.Now,
	}
}

func (f *SimulatedFetcher) Source() string { return "simulated" }

func (f *SimulatedFetcher) FetchWeather(ctx context.Context, latitude, longitude float64) (*Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetch.Error{Source: "simulated", Op: "weather", Err: err}
	}
	if err := validCoordinates(latitude, longitude); err != nil {
		return nil, &fetch.Error{Source: "simulated", Op: "weather", Status: http.StatusBadRequest, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// warmer towards the equator
	base := 30 - math.Abs(latitude)*0.4
	r := &Reading{
		Temperature: round1(base + f.rng.NormFloat64()*4),
		Humidity:    round1(50 + f.rng.Float64()*45),
		Rainfall:    0,
		WindSpeed:   round1(math.Abs(f.rng.NormFloat64()) * 15),
		RecordedAt:  f.now().UTC(),
	}
	if f.rng.Float64() < 0.3 {
		r.Rainfall = round1(f.rng.ExpFloat64() * 12)
	}
	return r, nil
}

// OpenMeteoFetcher reads current conditions from an Open-Meteo compatible API.
type OpenMeteoFetcher struct {
	client *fetch.Client
	log    *slog.Logger
}

func NewOpenMeteoFetcher(client *fetch.Client, log *slog.Logger) *OpenMeteoFetcher {
	return &OpenMeteoFetcher{client: client, log: log.With(logger.Scope("weather.fetcher"))}
}

func (f *OpenMeteoFetcher) Source() string { return f.client.Source() }

type forecastResponse struct {
	Current struct {
		Time          string  `json:"time"`
		Temperature   float64 `json:"temperature_2m"`
		Humidity      float64 `json:"relative_humidity_2m"`
		Precipitation float64 `json:"precipitation"`
		WindSpeed     float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

// openMeteoTime is the ISO8601 layout Open-Meteo uses in GMT responses.
const openMeteoTime = "2006-01-02T15:04"

func (f *OpenMeteoFetcher) FetchWeather(ctx context.Context, latitude, longitude float64) (*Reading, error) {
	if err := validCoordinates(latitude, longitude); err != nil {
		return nil, &fetch.Error{Source: f.client.Source(), Op: "weather", Status: http.StatusBadRequest, Err: err}
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m")
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "GMT")

	var resp forecastResponse
	if err := f.client.GetJSON(ctx, "/v1/forecast", q, &resp); err != nil {
		return nil, err
	}

	recorded, err := time.Parse(openMeteoTime, resp.Current.Time)
	if err != nil {
		f.log.Debug("unparseable observation time, using now", slog.String("time", resp.Current.Time))
		recorded = time.Now().UTC()
	}
	return &Reading{
		Temperature: resp.Current.Temperature,
		Humidity:    resp.Current.Humidity,
		Rainfall:    resp.Current.Precipitation,
		WindSpeed:   resp.Current.WindSpeed,
		RecordedAt:  recorded,
	}, nil
}

func validCoordinates(latitude, longitude float64) error {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return fmt.Errorf("coordinates out of range: %v,%v", latitude, longitude)
	}
	return nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func sourceName(f Fetcher) string {
	if s, ok := f.(interface{ Source() string }); ok {
		return s.Source()
	}
	return "unknown"
}
