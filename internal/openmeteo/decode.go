package openmeteo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smukkama/climate-cache/internal/climate"
)

const defaultInterval = 24 * time.Hour

type apiResponse struct {
	Error  bool                       `json:"error"`
	Reason string                     `json:"reason"`
	Daily  map[string]json.RawMessage `json:"daily"`
}

// decodeResponse turns a daily climate payload into one Series per model.
// With several models the provider suffixes every variable with _<MODEL>.
func decodeResponse(body []byte, models []string, fields []climate.Field) ([]climate.Series, error) {
	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Error {
		return nil, fmt.Errorf("provider error: %s", payload.Reason)
	}
	if payload.Daily == nil {
		return nil, errors.New("response has no daily block")
	}

	rawTime, ok := payload.Daily["time"]
	if !ok {
		return nil, errors.New("daily block has no time index")
	}
	var stamps []int64
	if err := json.Unmarshal(rawTime, &stamps); err != nil {
		return nil, fmt.Errorf("failed to decode time index: %w", err)
	}
	if len(stamps) == 0 {
		return nil, errors.New("empty time index")
	}

	start := time.Unix(stamps[0], 0).UTC()
	interval := defaultInterval
	if len(stamps) > 1 {
		interval = time.Duration(stamps[1]-stamps[0]) * time.Second
		if interval <= 0 {
			return nil, errors.New("non-increasing time index")
		}
	}
	end := time.Unix(stamps[len(stamps)-1], 0).UTC().Add(interval)

	// Variable names are matched case-insensitively; the model suffix is
	// not guaranteed to keep the casing of the request.
	daily := make(map[string]json.RawMessage, len(payload.Daily))
	for k, v := range payload.Daily {
		daily[strings.ToLower(k)] = v
	}

	series := make([]climate.Series, 0, len(models))
	for _, model := range models {
		s := climate.Series{
			Model:    model,
			Start:    start,
			End:      end,
			Interval: interval,
			Values:   make(map[climate.Field][]float64, len(fields)),
		}

		for _, f := range fields {
			name := f.APIVariable()
			if len(models) > 1 {
				name += "_" + model
			}
			raw, ok := daily[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("model %s: missing variable %s", model, name)
			}
			values, err := decodeValues(raw)
			if err != nil {
				return nil, fmt.Errorf("model %s: %s: %w", model, name, err)
			}
			s.Values[f] = values
		}
		series = append(series, s)
	}

	return series, nil
}

func decodeValues(raw json.RawMessage) ([]float64, error) {
	var nullable []*float64
	if err := json.Unmarshal(raw, &nullable); err != nil {
		return nil, err
	}
	values := make([]float64, len(nullable))
	for i, v := range nullable {
		if v == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *v
	}
	return values, nil
}

// providerReason extracts the reason of an error payload, falling back to the
// raw body.
func providerReason(body []byte) string {
	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Reason != "" {
		return payload.Reason
	}
	const maxReason = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxReason {
		s = s[:maxReason]
	}
	if s == "" {
		return "no reason given"
	}
	return s
}
