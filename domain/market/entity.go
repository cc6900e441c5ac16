package market

import (
	"time"

	"github.com/uptrace/bun"
)

// Price represents a row of the market_prices table
type Price struct {
	bun.BaseModel `bun:"table:market_prices,alias:mp"`

	ID         string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Commodity  string    `bun:"commodity,notnull" json:"commodity"`
	Market     string    `bun:"market,notnull" json:"market"`
	Price      float64   `bun:"price,notnull" json:"price"`
	Currency   string    `bun:"currency,notnull" json:"currency"`
	Unit       string    `bun:"unit,notnull" json:"unit"`
	Source     string    `bun:"source,notnull" json:"source"`
	RecordedAt time.Time `bun:"recorded_at,notnull" json:"recordedAt"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// Direction is the sign of a price trend.
type Direction string

const (
	DirectionUp     Direction = "UP"
	DirectionDown   Direction = "DOWN"
	DirectionStable Direction = "STABLE"
)

// Trend summarises how a price series moved over a window.
type Trend struct {
	Commodity     string    `json:"commodity"`
	Market        string    `json:"market"`
	Direction     Direction `json:"direction"`
	ChangePercent float64   `json:"changePercent"`
	First         float64   `json:"first"`
	Last          float64   `json:"last"`
	Samples       int       `json:"samples"`
}

// Quote is what a Fetcher returns for one commodity at one market.
type Quote struct {
	Commodity  string    `json:"commodity"`
	Market     string    `json:"market"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recordedAt"`
}

// UpdatePricesPayload is the payload of an update-prices job. When UserID is
// set the user is alerted about significant trends.
type UpdatePricesPayload struct {
	Commodity string `json:"commodity"`
	Market    string `json:"market"`
	UserID    string `json:"userId,omitempty"`
}

// PriceUpdateEvent is pushed to the commodity room after every stored price.
type PriceUpdateEvent struct {
	Commodity  string    `json:"commodity"`
	Market     string    `json:"market"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recordedAt"`
}

// PriceAlertEvent is pushed to a user when a trend crosses the alert threshold.
type PriceAlertEvent struct {
	AlertID       string    `json:"alertId"`
	Commodity     string    `json:"commodity"`
	Market        string    `json:"market"`
	Price         float64   `json:"price"`
	Direction     Direction `json:"direction"`
	ChangePercent float64   `json:"changePercent"`
}
