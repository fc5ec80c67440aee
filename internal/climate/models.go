package climate

import (
	"fmt"
	"time"
)

// Field names a climate variable as it is stored in monthly_data.
type Field string

const (
	FieldTempMean Field = "temp_mean"
	FieldTempMax  Field = "temp_max"
	FieldTempMin  Field = "temp_min"
	FieldPrecip   Field = "precip"
)

// AllFields lists every stored field in column order.
var AllFields = []Field{FieldTempMean, FieldTempMax, FieldTempMin, FieldPrecip}

var apiVariables = map[Field]string{
	FieldTempMean: "temperature_2m_mean",
	FieldTempMax:  "temperature_2m_max",
	FieldTempMin:  "temperature_2m_min",
	FieldPrecip:   "precipitation_sum",
}

// APIVariable returns the daily variable name used by the climate API.
func (f Field) APIVariable() string {
	return apiVariables[f]
}

// Valid reports whether f is one of the stored fields.
func (f Field) Valid() bool {
	_, ok := apiVariables[f]
	return ok
}

// IsTemperature reports whether f holds a temperature in °C.
func (f Field) IsTemperature() bool {
	return f == FieldTempMean || f == FieldTempMax || f == FieldTempMin
}

// ParseField converts a field name such as "temp_max" into a Field.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !f.Valid() {
		return "", fmt.Errorf("%w: unsupported field %q", ErrValidation, s)
	}
	return f, nil
}

// Location is a registered (lat, lon) point.
type Location struct {
	ID  int64   `json:"loc_id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DailyRecord is one day of model-averaged values. Missing values are NaN.
type DailyRecord struct {
	LocID    int64
	Date     time.Time
	TempMean float64
	TempMax  float64
	TempMin  float64
	Precip   float64
}

// Value returns the record's value for f.
func (d DailyRecord) Value(f Field) float64 {
	switch f {
	case FieldTempMean:
		return d.TempMean
	case FieldTempMax:
		return d.TempMax
	case FieldTempMin:
		return d.TempMin
	case FieldPrecip:
		return d.Precip
	}
	return nan
}

// MonthlySummary is the durable unit: one row per location per calendar month.
// A nil field means no daily value contributed to it.
type MonthlySummary struct {
	LocID    int64     `json:"loc_id"`
	Month    time.Time `json:"month"`
	TempMean *float64  `json:"temp_mean"`
	TempMax  *float64  `json:"temp_max"`
	TempMin  *float64  `json:"temp_min"`
	Precip   *float64  `json:"precip"`
}

// Value returns the summary's value for f.
func (m MonthlySummary) Value(f Field) *float64 {
	switch f {
	case FieldTempMean:
		return m.TempMean
	case FieldTempMax:
		return m.TempMax
	case FieldTempMin:
		return m.TempMin
	case FieldPrecip:
		return m.Precip
	}
	return nil
}

// Set assigns v to field f.
func (m *MonthlySummary) Set(f Field, v *float64) {
	switch f {
	case FieldTempMean:
		m.TempMean = v
	case FieldTempMax:
		m.TempMax = v
	case FieldTempMin:
		m.TempMin = v
	case FieldPrecip:
		m.Precip = v
	}
}

// Series is one model's daily output. Values are aligned to the date index
// [Start, End) stepped by Interval; the API does not send per-point dates.
type Series struct {
	Model    string
	Start    time.Time
	End      time.Time
	Interval time.Duration
	Values   map[Field][]float64
}

// Dates reconstructs the date index of the series.
func (s Series) Dates() []time.Time {
	if s.Interval <= 0 || !s.Start.Before(s.End) {
		return nil
	}
	n := int(s.End.Sub(s.Start) / s.Interval)
	dates := make([]time.Time, 0, n)
	for t := s.Start; t.Before(s.End); t = t.Add(s.Interval) {
		dates = append(dates, t.UTC())
	}
	return dates
}

// Query describes one adapter request.
type Query struct {
	Lat    float64
	Lon    float64
	Start  time.Time
	End    time.Time
	Models []string
	Fields []Field
}
