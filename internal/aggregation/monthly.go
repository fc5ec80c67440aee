package aggregation

import (
	"math"
	"sort"
	"time"

	"github.com/smukkama/climate-cache/internal/climate"
)

// reducer folds daily values of one field into a monthly value, skipping NaN.
type reducer interface {
	add(v float64)
	result() (float64, bool)
}

type meanReducer struct{ acc accumulator }

func (r *meanReducer) add(v float64) { r.acc.add(v) }

func (r *meanReducer) result() (float64, bool) {
	return r.acc.mean(), r.acc.n > 0
}

type extremeReducer struct {
	max  bool
	v    float64
	seen bool
}

func (r *extremeReducer) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if !r.seen || (r.max && v > r.v) || (!r.max && v < r.v) {
		r.v = v
		r.seen = true
	}
}

func (r *extremeReducer) result() (float64, bool) { return r.v, r.seen }

// newReducer returns the monthly aggregate for a field: mean for temp_mean and
// precip, max for temp_max, min for temp_min.
func newReducer(f climate.Field) reducer {
	switch f {
	case climate.FieldTempMax:
		return &extremeReducer{max: true}
	case climate.FieldTempMin:
		return &extremeReducer{}
	default:
		return &meanReducer{}
	}
}

// ToMonthly resamples a daily series into month-start buckets (UTC). Months
// without a day carrying at least one value produce no row. Values are not
// rounded.
func (e *Engine) ToMonthly(locID int64, daily []climate.DailyRecord) []climate.MonthlySummary {
	type bucket struct {
		month    time.Time
		reducers map[climate.Field]reducer
	}
	buckets := make(map[int64]*bucket)

	for _, rec := range daily {
		if !e.hasValue(rec) {
			continue
		}
		month := climate.MonthStart(rec.Date)
		key := month.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{month: month, reducers: make(map[climate.Field]reducer, len(e.fields))}
			for _, f := range e.fields {
				b.reducers[f] = newReducer(f)
			}
			buckets[key] = b
		}
		for f, r := range b.reducers {
			r.add(rec.Value(f))
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]climate.MonthlySummary, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		row := climate.MonthlySummary{LocID: locID, Month: b.month}
		for f, r := range b.reducers {
			if v, ok := r.result(); ok {
				row.Set(f, &v)
			}
		}
		rows = append(rows, row)
	}

	return rows
}

func (e *Engine) hasValue(rec climate.DailyRecord) bool {
	for _, f := range e.fields {
		if !math.IsNaN(rec.Value(f)) {
			return true
		}
	}
	return false
}

// Summarize runs CombineModels then ToMonthly.
func (e *Engine) Summarize(locID int64, series []climate.Series) ([]climate.MonthlySummary, error) {
	daily, err := e.CombineModels(series)
	if err != nil {
		return nil, err
	}
	return e.ToMonthly(locID, daily), nil
}

func unixDate(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
