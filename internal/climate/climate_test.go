package climate

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCoord(t *testing.T) {
	assert.Equal(t, 0.3, NormalizeCoord(0.1+0.2))
	assert.Equal(t, -45.123457, NormalizeCoord(-45.1234567))
	assert.Equal(t, 90.0, NormalizeCoord(90))
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantErr  bool
	}{
		{"origin", 0, 0, false},
		{"corners", -90, 180, false},
		{"lat too high", 90.5, 0, true},
		{"lon too low", 0, -180.1, true},
		{"nan", math.NaN(), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinates(tt.lat, tt.lon)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDateAndMonth(t *testing.T) {
	d, err := ParseDate("1950-03-17")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1950, time.March, 17, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("17/03/1950")
	assert.ErrorIs(t, err, ErrValidation)

	m, err := ParseMonth("2001-11")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, time.November, 1, 0, 0, 0, 0, time.UTC), m)

	_, err = ParseMonth("2001-13")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMonthStart(t *testing.T) {
	east := time.FixedZone("UTC+3", 3*3600)
	// Already 31 Jan in UTC.
	got := MonthStart(time.Date(2000, time.February, 1, 1, 0, 0, 0, east))
	assert.Equal(t, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestLinspace(t *testing.T) {
	got := Linspace(-90, 90, 91)
	require.Len(t, got, 91)
	assert.Equal(t, -90.0, got[0])
	assert.Equal(t, 90.0, got[90])
	assert.InDelta(t, 0.0, got[45], 1e-9)
	assert.InDelta(t, 2.0, got[1]-got[0], 1e-9)

	assert.Equal(t, []float64{5}, Linspace(5, 10, 1))
	assert.Nil(t, Linspace(0, 1, 0))
}

func TestParseField(t *testing.T) {
	f, err := ParseField("precip")
	require.NoError(t, err)
	assert.Equal(t, FieldPrecip, f)
	assert.Equal(t, "precipitation_sum", f.APIVariable())
	assert.False(t, f.IsTemperature())
	assert.True(t, FieldTempMin.IsTemperature())

	_, err = ParseField("humidity")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSeriesDates(t *testing.T) {
	start := time.Date(1950, time.January, 30, 0, 0, 0, 0, time.UTC)
	s := Series{
		Start:    start,
		End:      start.Add(3 * 24 * time.Hour),
		Interval: 24 * time.Hour,
	}

	dates := s.Dates()
	require.Len(t, dates, 3)
	assert.Equal(t, start, dates[0])
	assert.Equal(t, time.Date(1950, time.February, 1, 0, 0, 0, 0, time.UTC), dates[2])

	assert.Nil(t, Series{Start: start, End: start, Interval: time.Hour}.Dates())
	assert.Nil(t, Series{Start: start, End: start.Add(time.Hour)}.Dates())
}

func TestMonthlySummarySetValue(t *testing.T) {
	var m MonthlySummary
	v := 4.5
	for _, f := range AllFields {
		assert.Nil(t, m.Value(f))
		m.Set(f, &v)
		assert.Equal(t, 4.5, *m.Value(f))
	}

	d := DailyRecord{TempMean: 1, TempMax: 2, TempMin: 3, Precip: 4}
	assert.Equal(t, 2.0, d.Value(FieldTempMax))
	assert.True(t, math.IsNaN(d.Value(Field("unknown"))))
}
