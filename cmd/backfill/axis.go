package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smukkama/climate-cache/internal/climate"
)

// parseAxis parses "start:end:n" into n evenly spaced coordinates.
func parseAxis(arg string) ([]float64, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("axis %q: want start:end:n", arg)
	}

	start, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("axis %q: bad start: %w", arg, err)
	}
	end, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("axis %q: bad end: %w", arg, err)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("axis %q: n must be a positive integer", arg)
	}

	return climate.Linspace(start, end, n), nil
}
