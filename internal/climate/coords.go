package climate

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the day format accepted by the API and the climate provider.
const DateLayout = "2006-01-02"

// MonthLayout is the month format accepted by the read API.
const MonthLayout = "2006-01"

const coordScale = 1e6

// NormalizeCoord rounds a coordinate to 6 decimal places so that grids built
// on separate calls resolve to the same location.
func NormalizeCoord(v float64) float64 {
	return math.Round(v*coordScale) / coordScale
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrValidation, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrValidation, lon)
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", ErrValidation, s)
	}
	return t, nil
}

// ParseMonth parses a YYYY-MM month and returns its first day in UTC.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.ParseInLocation(MonthLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid month %q, want YYYY-MM", ErrValidation, s)
	}
	return t, nil
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Linspace returns n evenly spaced values over [start, end], inclusive of both ends.
func Linspace(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	step := (end - start) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}
