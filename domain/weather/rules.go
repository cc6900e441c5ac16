package weather

import (
	"fmt"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/alerts"
)

// Rule is one threshold check over a reading. Rules are evaluated
// independently and each fires at most one alert per reading.
type Rule struct {
	Name     string
	Severity alerts.Severity
	Title    string
	Value    func(r Reading) float64
	Fires    func(v float64) bool
	Message  func(farm string, v float64) string
}

// DefaultRules are the agronomic thresholds alerted on.
var DefaultRules = []Rule{
	{
		Name:     "heat",
		Severity: alerts.SeverityHigh,
		Title:    "Extreme heat",
		Value:    func(r Reading) float64 { return r.Temperature },
		Fires:    func(v float64) bool { return v > 35 },
		Message: func(farm string, v float64) string {
			return fmt.Sprintf("%.1f°C measured at %s. Check irrigation and livestock shade.", v, farm)
		},
	},
	{
		Name:     "frost",
		Severity: alerts.SeverityHigh,
		Title:    "Frost risk",
		Value:    func(r Reading) float64 { return r.Temperature },
		Fires:    func(v float64) bool { return v < 5 },
		Message: func(farm string, v float64) string {
			return fmt.Sprintf("%.1f°C measured at %s. Sensitive crops may need protection.", v, farm)
		},
	},
	{
		Name:     "heavy_rain",
		Severity: alerts.SeverityMedium,
		Title:    "Heavy rain",
		Value:    func(r Reading) float64 { return r.Rainfall },
		Fires:    func(v float64) bool { return v > 50 },
		Message: func(farm string, v float64) string {
			return fmt.Sprintf("%.1fmm of rain at %s. Watch for waterlogging and erosion.", v, farm)
		},
	},
	{
		Name:     "strong_wind",
		Severity: alerts.SeverityMedium,
		Title:    "Strong wind",
		Value:    func(r Reading) float64 { return r.WindSpeed },
		Fires:    func(v float64) bool { return v > 60 },
		Message: func(farm string, v float64) string {
			return fmt.Sprintf("Wind at %.1fkm/h at %s. Postpone spraying.", v, farm)
		},
	},
}
