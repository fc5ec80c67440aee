package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/smukkama/climate-cache/internal/climate"
)

const (
	selectLocationQuery = `SELECT loc_id FROM locations WHERE lat = $1 AND lon = $2`
	insertLocationQuery = `
		INSERT INTO locations (lat, lon)
		VALUES ($1, $2)
		ON CONFLICT (lat, lon) DO NOTHING
	`
)

// LookupLocation returns the id registered for (lat, lon) without creating one.
func (db *DB) LookupLocation(ctx context.Context, q Querier, lat, lon float64) (int64, bool, error) {
	lat, lon = climate.NormalizeCoord(lat), climate.NormalizeCoord(lon)

	var id int64
	err := db.querier(q).QueryRowContext(ctx, selectLocationQuery, lat, lon).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: failed to look up location (%v, %v): %w", climate.ErrRegistry, lat, lon, err)
	}
	return id, true, nil
}

// ResolveLocation returns the id for (lat, lon), registering the pair on first
// use. Concurrent callers racing on the same pair converge on one row through
// the unique constraint.
func (db *DB) ResolveLocation(ctx context.Context, q Querier, lat, lon float64) (int64, error) {
	q = db.querier(q)

	id, found, err := db.LookupLocation(ctx, q, lat, lon)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	nlat, nlon := climate.NormalizeCoord(lat), climate.NormalizeCoord(lon)
	if _, err := q.ExecContext(ctx, insertLocationQuery, nlat, nlon); err != nil {
		return 0, fmt.Errorf("%w: failed to insert location (%v, %v): %w", climate.ErrRegistry, nlat, nlon, err)
	}

	id, found, err = db.LookupLocation(ctx, q, lat, lon)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: location (%v, %v) missing after insert", climate.ErrRegistry, nlat, nlon)
	}

	db.log.WithFields(map[string]interface{}{"loc_id": id, "lat": nlat, "lon": nlon}).Debug("registered location")
	return id, nil
}

// GetLocation returns the registered location with the given id.
func (db *DB) GetLocation(ctx context.Context, id int64) (*climate.Location, error) {
	query := `SELECT loc_id, lat, lon FROM locations WHERE loc_id = $1`

	var loc climate.Location
	err := db.QueryRowContext(ctx, query, id).Scan(&loc.ID, &loc.Lat, &loc.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, climate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get location %d: %w", climate.ErrRegistry, id, err)
	}
	return &loc, nil
}
