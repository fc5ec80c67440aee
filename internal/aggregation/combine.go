package aggregation

import (
	"fmt"
	"math"
	"sort"

	"github.com/smukkama/climate-cache/internal/climate"
)

// Config selects which fields the engine aggregates. The zero value means all fields.
type Config struct {
	Fields []climate.Field
}

// DefaultConfig aggregates every stored field.
func DefaultConfig() Config {
	return Config{Fields: append([]climate.Field(nil), climate.AllFields...)}
}

// Engine combines per-model daily series and resamples them into monthly summaries.
type Engine struct {
	fields []climate.Field
}

// NewEngine creates an engine. The config is copied; later changes to it have no effect.
func NewEngine(cfg Config) *Engine {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = climate.AllFields
	}
	return &Engine{fields: append([]climate.Field(nil), fields...)}
}

// Fields returns the fields this engine aggregates.
func (e *Engine) Fields() []climate.Field {
	return append([]climate.Field(nil), e.fields...)
}

type accumulator struct {
	sum float64
	n   int
}

func (a *accumulator) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	a.sum += v
	a.n++
}

func (a accumulator) mean() float64 {
	if a.n == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.n)
}

// CombineModels averages the models element-wise per field and date. A model
// that lacks a date, or holds NaN for a field, is left out of that mean only.
func (e *Engine) CombineModels(series []climate.Series) ([]climate.DailyRecord, error) {
	type day struct {
		fields map[climate.Field]*accumulator
	}
	days := make(map[int64]*day)

	for _, s := range series {
		dates := s.Dates()
		for _, f := range e.fields {
			values, ok := s.Values[f]
			if ok && len(values) != len(dates) {
				return nil, fmt.Errorf("%w: model %s field %s has %d values for %d dates",
					climate.ErrAdapter, s.Model, f, len(values), len(dates))
			}
		}

		for i, date := range dates {
			key := date.Unix()
			d, ok := days[key]
			if !ok {
				d = &day{fields: make(map[climate.Field]*accumulator, len(e.fields))}
				for _, f := range e.fields {
					d.fields[f] = &accumulator{}
				}
				days[key] = d
			}
			for _, f := range e.fields {
				if values, ok := s.Values[f]; ok {
					d.fields[f].add(values[i])
				}
			}
		}
	}

	keys := make([]int64, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	records := make([]climate.DailyRecord, 0, len(keys))
	for _, k := range keys {
		d := days[k]
		rec := climate.DailyRecord{
			Date:     unixDate(k),
			TempMean: math.NaN(),
			TempMax:  math.NaN(),
			TempMin:  math.NaN(),
			Precip:   math.NaN(),
		}
		for f, acc := range d.fields {
			setDaily(&rec, f, acc.mean())
		}
		records = append(records, rec)
	}

	return records, nil
}

func setDaily(rec *climate.DailyRecord, f climate.Field, v float64) {
	switch f {
	case climate.FieldTempMean:
		rec.TempMean = v
	case climate.FieldTempMax:
		rec.TempMax = v
	case climate.FieldTempMin:
		rec.TempMin = v
	case climate.FieldPrecip:
		rec.Precip = v
	}
}
