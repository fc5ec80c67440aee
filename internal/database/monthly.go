package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smukkama/climate-cache/internal/climate"
)

// UpsertMode selects how Upsert treats rows that already exist for (loc_id, month).
type UpsertMode int

const (
	// InsertNew leaves existing rows untouched.
	InsertNew UpsertMode = iota
	// Replace overwrites existing rows with the new values.
	Replace
)

func (m UpsertMode) String() string {
	switch m {
	case InsertNew:
		return "insert_new"
	case Replace:
		return "replace"
	}
	return fmt.Sprintf("UpsertMode(%d)", int(m))
}

const (
	insertMonthlyQuery = `
		INSERT INTO monthly_data (loc_id, month, temp_mean, temp_max, temp_min, precip)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (loc_id, month) DO NOTHING
	`
	replaceMonthlyQuery = `
		INSERT INTO monthly_data (loc_id, month, temp_mean, temp_max, temp_min, precip)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (loc_id, month) DO UPDATE
		SET temp_mean = EXCLUDED.temp_mean,
		    temp_max = EXCLUDED.temp_max,
		    temp_min = EXCLUDED.temp_min,
		    precip = EXCLUDED.precip,
		    updated_at = CURRENT_TIMESTAMP
	`
)

// Upsert writes monthly rows. The call is atomic: given a *sql.Tx the rows join
// that transaction, otherwise Upsert opens and commits its own.
func (db *DB) Upsert(ctx context.Context, q Querier, rows []climate.MonthlySummary, mode UpsertMode) (int64, error) {
	var query string
	switch mode {
	case InsertNew:
		query = insertMonthlyQuery
	case Replace:
		query = replaceMonthlyQuery
	default:
		return 0, fmt.Errorf("%w: unknown upsert mode %v", climate.ErrPersistence, mode)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var written int64
	write := func(q Querier) error {
		stmt, err := q.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("%w: failed to prepare %s: %w", climate.ErrPersistence, mode, err)
		}
		defer stmt.Close()

		for _, row := range rows {
			month := climate.MonthStart(row.Month)
			result, err := stmt.ExecContext(ctx,
				row.LocID,
				month,
				row.TempMean,
				row.TempMax,
				row.TempMin,
				row.Precip,
			)
			if err != nil {
				return fmt.Errorf("%w: failed to write loc %d month %s: %w",
					climate.ErrPersistence, row.LocID, month.Format(climate.MonthLayout), err)
			}
			n, _ := result.RowsAffected()
			written += n
		}
		return nil
	}

	if tx, ok := q.(*sql.Tx); ok && tx != nil {
		if err := write(tx); err != nil {
			return 0, err
		}
		return written, nil
	}

	err := db.WithTx(ctx, func(tx *sql.Tx) error { return write(tx) })
	if err != nil {
		if !errors.Is(err, climate.ErrPersistence) {
			err = fmt.Errorf("%w: %w", climate.ErrPersistence, err)
		}
		return 0, err
	}
	return written, nil
}

// HasMonthly reports whether any monthly row exists for (lat, lon) between
// the months of start and end inclusive.
func (db *DB) HasMonthly(ctx context.Context, q Querier, lat, lon float64, start, end time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM monthly_data m
			JOIN locations l ON l.loc_id = m.loc_id
			WHERE l.lat = $1 AND l.lon = $2
			  AND m.month >= $3 AND m.month <= $4
		)
	`

	var exists bool
	err := db.querier(q).QueryRowContext(ctx, query,
		climate.NormalizeCoord(lat),
		climate.NormalizeCoord(lon),
		climate.MonthStart(start),
		climate.MonthStart(end),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check existing data: %w", climate.ErrPersistence, err)
	}
	return exists, nil
}

// GetMonthly returns the summary for (locID, month) or climate.ErrNotFound.
func (db *DB) GetMonthly(ctx context.Context, locID int64, month time.Time) (*climate.MonthlySummary, error) {
	query := `
		SELECT loc_id, month, temp_mean, temp_max, temp_min, precip
		FROM monthly_data
		WHERE loc_id = $1 AND month = $2
	`

	row, err := scanMonthly(db.QueryRowContext(ctx, query, locID, climate.MonthStart(month)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, climate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get monthly data: %w", climate.ErrPersistence, err)
	}
	return row, nil
}

// GetRange returns the summaries for locID between the months of start and
// end inclusive, ordered by month.
func (db *DB) GetRange(ctx context.Context, locID int64, start, end time.Time) ([]climate.MonthlySummary, error) {
	query := `
		SELECT loc_id, month, temp_mean, temp_max, temp_min, precip
		FROM monthly_data
		WHERE loc_id = $1 AND month >= $2 AND month <= $3
		ORDER BY month
	`

	rows, err := db.QueryContext(ctx, query, locID, climate.MonthStart(start), climate.MonthStart(end))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query monthly data: %w", climate.ErrPersistence, err)
	}
	defer rows.Close()

	var results []climate.MonthlySummary
	for rows.Next() {
		row, err := scanMonthly(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan monthly row: %w", climate.ErrPersistence, err)
		}
		results = append(results, *row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", climate.ErrPersistence, err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMonthly(s scanner) (*climate.MonthlySummary, error) {
	var (
		row                              climate.MonthlySummary
		tempMean, tempMax, tempMin, prcp sql.NullFloat64
	)
	if err := s.Scan(&row.LocID, &row.Month, &tempMean, &tempMax, &tempMin, &prcp); err != nil {
		return nil, err
	}
	row.Month = row.Month.UTC()
	row.TempMean = nullable(tempMean)
	row.TempMax = nullable(tempMax)
	row.TempMin = nullable(tempMin)
	row.Precip = nullable(prcp)
	return &row, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
