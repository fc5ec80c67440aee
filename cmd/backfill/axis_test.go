package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/climate-cache/internal/climate"
	"github.com/smukkama/climate-cache/internal/refresh"
)

func TestParseAxis(t *testing.T) {
	got, err := parseAxis("-90:90:3")
	require.NoError(t, err)
	assert.Equal(t, []float64{-90, 0, 90}, got)

	got, err = parseAxis("12.5:12.5:1")
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5}, got)
}

func TestParseAxis_Invalid(t *testing.T) {
	for _, arg := range []string{"", "1:2", "a:2:3", "1:b:3", "1:2:0", "1:2:x", "1:2:3:4"} {
		_, err := parseAxis(arg)
		assert.Error(t, err, arg)
	}
}

func TestDefaultsFitDefaultCeiling(t *testing.T) {
	lats, err := parseAxis(defaultLats)
	require.NoError(t, err)
	lons, err := parseAxis(defaultLons)
	require.NoError(t, err)
	start, err := climate.ParseDate(defaultFrom)
	require.NoError(t, err)
	end, err := climate.ParseDate(defaultTo)
	require.NoError(t, err)

	cfg := refresh.DefaultConfig()
	req := refresh.Request{Lats: lats, Lons: lons, Start: start, End: end}
	assert.LessOrEqual(t, req.Cells(), cfg.MaxCells)

	o := refresh.New(cfg, nil, nil, nil, nil, nil)
	assert.NoError(t, o.Validate(req))
}
