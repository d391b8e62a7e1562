package series

import "strings"

// Parameter describes one of the pollutant codes served by Air4Thai.
type Parameter struct {
	Code string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Parameters is the fixed catalogue of supported pollutant codes.
var Parameters = []Parameter{
	{Code: "PM25", Name: "PM2.5", Unit: "µg/m³"},
	{Code: "PM10", Name: "PM10", Unit: "µg/m³"},
	{Code: "O3", Name: "Ozone (O3)", Unit: "ppb"},
	{Code: "CO", Name: "Carbon Monoxide (CO)", Unit: "ppm"},
	{Code: "NO2", Name: "Nitrogen Dioxide (NO2)", Unit: "ppb"},
	{Code: "SO2", Name: "Sulfur Dioxide (SO2)", Unit: "ppb"},
}

// ValidParameter reports whether code is one of the supported pollutants.
// Matching is case-insensitive; the canonical form is upper case.
func ValidParameter(code string) bool {
	code = strings.ToUpper(code)
	for _, p := range Parameters {
		if p.Code == code {
			return true
		}
	}
	return false
}
