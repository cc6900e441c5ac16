package alerts

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Type classifies where an alert came from.
type Type string

const (
	TypeMarket  Type = "MARKET"
	TypeWeather Type = "WEATHER"
	TypeSystem  Type = "SYSTEM"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents a row of the alerts table
type Alert struct {
	bun.BaseModel `bun:"table:alerts,alias:a"`

	ID        string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID    string          `bun:"user_id,notnull" json:"userId"`
	Type      Type            `bun:"type,notnull" json:"type"`
	Severity  Severity        `bun:"severity,notnull" json:"severity"`
	Title     string          `bun:"title,notnull" json:"title"`
	Message   string          `bun:"message,notnull" json:"message"`
	Metadata  json.RawMessage `bun:"metadata,type:jsonb,notnull,default:'{}'" json:"metadata,omitempty"`
	IsRead    bool            `bun:"is_read,notnull,default:false" json:"isRead"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// CreateInput describes a new alert.
type CreateInput struct {
	Type     Type
	Severity Severity
	Title    string
	Message  string
	Metadata map[string]any
}
