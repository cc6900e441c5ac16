package farms

import (
	"time"

	"github.com/uptrace/bun"
)

// Farm represents a row of the farms table. Coordinates are optional; farms
// without them cannot receive weather updates.
type Farm struct {
	bun.BaseModel `bun:"table:farms,alias:f"`

	ID           string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID       string    `bun:"user_id,notnull" json:"userId"`
	Name         string    `bun:"name,notnull" json:"name"`
	Latitude     *float64  `bun:"latitude" json:"latitude,omitempty"`
	Longitude    *float64  `bun:"longitude" json:"longitude,omitempty"`
	AreaHectares float64   `bun:"area_hectares,notnull" json:"areaHectares"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (f *Farm) HasCoordinates() bool {
	return f != nil && f.Latitude != nil && f.Longitude != nil
}
