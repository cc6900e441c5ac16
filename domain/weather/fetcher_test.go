package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
)

func TestOpenMeteoFetcher_FetchWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "-23.5000", r.URL.Query().Get("latitude"))
		assert.Contains(t, r.URL.Query().Get("current"), "wind_speed_10m")
		_, _ = w.Write([]byte(`{"current":{"time":"2026-03-02T06:00","temperature_2m":31.4,"relative_humidity_2m":71,"precipitation":12.5,"wind_speed_10m":18.2}}`))
	}))
	defer srv.Close()

	f := NewOpenMeteoFetcher(fetch.NewClient("open-meteo", srv.URL, fetch.Options{}, testutil.NewLogger()), testutil.NewLogger())
	r, err := f.FetchWeather(context.Background(), -23.5, -51.2)
	require.NoError(t, err)
	assert.Equal(t, Reading{
		Temperature: 31.4,
		Humidity:    71,
		Rainfall:    12.5,
		WindSpeed:   18.2,
		RecordedAt:  time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
	}, *r)
	assert.Equal(t, "open-meteo", sourceName(f))
}

func TestOpenMeteoFetcher_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"reason":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewOpenMeteoFetcher(fetch.NewClient("open-meteo", srv.URL, fetch.Options{}, testutil.NewLogger()), testutil.NewLogger())
	_, err := f.FetchWeather(context.Background(), -23.5, -51.2)
	require.Error(t, err)
	assert.True(t, fetch.IsTemporary(err))
}

func TestFetchers_RejectOutOfRangeCoordinates(t *testing.T) {
	for _, f := range []Fetcher{
		NewSimulatedFetcher(3),
		NewOpenMeteoFetcher(fetch.NewClient("open-meteo", "http://127.0.0.1:1", fetch.Options{}, testutil.NewLogger()), testutil.NewLogger()),
	} {
		_, err := f.FetchWeather(context.Background(), 91, 0)
		require.Error(t, err)
		assert.False(t, fetch.IsTemporary(err))
	}
}

func TestSimulatedFetcher_PlausibleReadings(t *testing.T) {
	f := NewSimulatedFetcher(7)
	for i := 0; i < 200; i++ {
		r, err := f.FetchWeather(context.Background(), -15.8, -47.9)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Humidity, 50.0)
		assert.LessOrEqual(t, r.Humidity, 95.0)
		assert.GreaterOrEqual(t, r.Rainfall, 0.0)
		assert.GreaterOrEqual(t, r.WindSpeed, 0.0)
	}
}
