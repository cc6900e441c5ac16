package simulations

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Status is the lifecycle of a simulation row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Simulation represents a row of the simulations table
type Simulation struct {
	bun.BaseModel `bun:"table:simulations,alias:s"`

	ID             string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID         string          `bun:"user_id,notnull" json:"userId"`
	Name           string          `bun:"name,notnull" json:"name"`
	Commodity      string          `bun:"commodity,notnull" json:"commodity"`
	AreaHectares   float64         `bun:"area_hectares,notnull" json:"areaHectares"`
	ExpectedYield  float64         `bun:"expected_yield,notnull" json:"expectedYield"`
	YieldStdDev    float64         `bun:"yield_stddev,notnull" json:"yieldStdDev"`
	ExpectedPrice  float64         `bun:"expected_price,notnull" json:"expectedPrice"`
	PriceStdDev    float64         `bun:"price_stddev,notnull" json:"priceStdDev"`
	CostPerHectare float64         `bun:"cost_per_hectare,notnull" json:"costPerHectare"`
	Iterations     int             `bun:"iterations,notnull" json:"iterations"`
	Status         Status          `bun:"status,notnull" json:"status"`
	Result         json.RawMessage `bun:"result,type:jsonb" json:"result,omitempty"`
	ExecutedAt     *time.Time      `bun:"executed_at" json:"executedAt,omitempty"`
	CreatedAt      time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// Scenario is one outcome of the model: a yield, price and the resulting profit.
type Scenario struct {
	Name   string  `json:"name"`
	Yield  float64 `json:"yield"`
	Price  float64 `json:"price"`
	Profit float64 `json:"profit"`
}

// Statistics summarise the profit distribution.
type Statistics struct {
	Iterations        int     `json:"iterations"`
	Mean              float64 `json:"mean"`
	StdDev            float64 `json:"stdDev"`
	P5                float64 `json:"p5"`
	P50               float64 `json:"p50"`
	P95               float64 `json:"p95"`
	ProbabilityOfLoss float64 `json:"probabilityOfLoss"`
}

// Result is what a completed run stores and returns.
type Result struct {
	SimulationID  string     `json:"simulationId"`
	Scenarios     []Scenario `json:"scenarios"`
	BestScenario  Scenario   `json:"bestScenario"`
	WorstScenario Scenario   `json:"worstScenario"`
	Statistics    Statistics `json:"statistics"`
	ExecutedAt    time.Time  `json:"executedAt"`
}

// RunSimulationPayload is the payload of a run-simulation job. Priority, when
// set, overrides the queue default.
type RunSimulationPayload struct {
	SimulationID string `json:"simulationId"`
	UserID       string `json:"userId"`
	Priority     int    `json:"priority,omitempty"`
}
