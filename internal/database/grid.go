package database

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/climate-cache/internal/climate"
)

// Grid holds one field of one month sampled on a lat × lon grid. Values[i][j]
// belongs to (Lats[i], Lons[j]) and is nil when the cache has no value there.
type Grid struct {
	Month   time.Time     `json:"month"`
	Field   climate.Field `json:"field"`
	Lats    []float64     `json:"lats"`
	Lons    []float64     `json:"lons"`
	Values  [][]*float64  `json:"values"`
	Missing int           `json:"missing"`
}

type coordKey struct {
	lat, lon float64
}

// GetGrid reads field for month at every (lat, lon) of the grid. Cells the
// cache does not hold are left nil; they are never filled from neighbours.
func (db *DB) GetGrid(ctx context.Context, month time.Time, field climate.Field, lats, lons []float64) (*Grid, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: unsupported field %q", climate.ErrValidation, field)
	}
	month = climate.MonthStart(month)

	// field is whitelisted above, so it is safe to use as a column name.
	query := fmt.Sprintf(`
		SELECT l.lat, l.lon, m.%s
		FROM monthly_data m
		JOIN locations l ON l.loc_id = m.loc_id
		WHERE m.month = $1
	`, string(field))

	rows, err := db.QueryContext(ctx, query, month)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query grid: %w", climate.ErrPersistence, err)
	}
	defer rows.Close()

	values := make(map[coordKey]*float64)
	for rows.Next() {
		var (
			lat, lon float64
			v        *float64
		)
		if err := rows.Scan(&lat, &lon, &v); err != nil {
			return nil, fmt.Errorf("%w: failed to scan grid row: %w", climate.ErrPersistence, err)
		}
		values[coordKey{climate.NormalizeCoord(lat), climate.NormalizeCoord(lon)}] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", climate.ErrPersistence, err)
	}

	grid := &Grid{
		Month:  month,
		Field:  field,
		Lats:   lats,
		Lons:   lons,
		Values: make([][]*float64, len(lats)),
	}
	for i, lat := range lats {
		grid.Values[i] = make([]*float64, len(lons))
		for j, lon := range lons {
			v := values[coordKey{climate.NormalizeCoord(lat), climate.NormalizeCoord(lon)}]
			if v == nil {
				grid.Missing++
			}
			grid.Values[i][j] = v
		}
	}

	return grid, nil
}
