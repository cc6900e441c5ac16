package weather

import (
	"time"

	"github.com/uptrace/bun"
)

// ClimateData represents a row of the climate_data table
type ClimateData struct {
	bun.BaseModel `bun:"table:climate_data,alias:cd"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID      string    `bun:"user_id,notnull" json:"userId"`
	FarmID      string    `bun:"farm_id,notnull,type:uuid" json:"farmId"`
	Temperature float64   `bun:"temperature,notnull" json:"temperature"`
	Humidity    float64   `bun:"humidity,notnull" json:"humidity"`
	Rainfall    float64   `bun:"rainfall,notnull" json:"rainfall"`
	WindSpeed   float64   `bun:"wind_speed,notnull" json:"windSpeed"`
	Source      string    `bun:"source,notnull" json:"source"`
	RecordedAt  time.Time `bun:"recorded_at,notnull" json:"recordedAt"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// Reading is one observation returned by a Fetcher. Temperature is in °C,
// humidity in %, rainfall in mm and wind speed in km/h.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Rainfall    float64   `json:"rainfall"`
	WindSpeed   float64   `json:"windSpeed"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// UpdateWeatherPayload is the payload of an update-weather job. Force
// bypasses the freshness check.
type UpdateWeatherPayload struct {
	FarmID string `json:"farmId"`
	UserID string `json:"userId"`
	Force  bool   `json:"force,omitempty"`
}

// WeatherAlertEvent is pushed to the farm owner for every rule that fires.
type WeatherAlertEvent struct {
	AlertID  string  `json:"alertId"`
	FarmID   string  `json:"farmId"`
	FarmName string  `json:"farmName"`
	Rule     string  `json:"rule"`
	Severity string  `json:"severity"`
	Title    string  `json:"title"`
	Value    float64 `json:"value"`
}
