// Package refresh runs batch refreshes of the monthly climate cache over a
// grid of locations.
package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/climate-cache/internal/aggregation"
	"github.com/smukkama/climate-cache/internal/climate"
	"github.com/smukkama/climate-cache/internal/database"
)

// Fetcher is the climate source adapter.
type Fetcher interface {
	Fetch(ctx context.Context, q climate.Query) ([]climate.Series, error)
}

// Store is the part of the persistence layer the orchestrator writes through.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	HasMonthly(ctx context.Context, q database.Querier, lat, lon float64, start, end time.Time) (bool, error)
	ResolveLocation(ctx context.Context, q database.Querier, lat, lon float64) (int64, error)
	Upsert(ctx context.Context, q database.Querier, rows []climate.MonthlySummary, mode database.UpsertMode) (int64, error)
}

// Publisher announces committed batches. Implementations must be safe to
// call after Run returns.
type Publisher interface {
	PublishBatchCompleted(ctx context.Context, report *Report) error
}

// Config holds orchestrator limits.
type Config struct {
	MaxCells     int
	Workers      int
	FetchTimeout time.Duration
	MinDate      time.Time
	MaxDate      time.Time

	// Models requested from the adapter; empty uses the adapter's defaults.
	Models []string
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxCells:     5000,
		Workers:      4,
		FetchTimeout: 60 * time.Second,
		MinDate:      time.Date(1950, time.January, 1, 0, 0, 0, 0, time.UTC),
		MaxDate:      time.Date(2050, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Orchestrator refreshes the cache cell by cell. Runs are serialized, so at
// most one writer touches a (location, month) at a time.
type Orchestrator struct {
	cfg       Config
	store     Store
	fetcher   Fetcher
	engine    *aggregation.Engine
	publisher Publisher
	log       logrus.FieldLogger

	mu sync.Mutex
}

// New creates an Orchestrator. publisher may be nil.
func New(cfg Config, store Store, fetcher Fetcher, engine *aggregation.Engine, publisher Publisher, log logrus.FieldLogger) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = defaults.MaxCells
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.MinDate.IsZero() {
		cfg.MinDate = defaults.MinDate
	}
	if cfg.MaxDate.IsZero() {
		cfg.MaxDate = defaults.MaxDate
	}
	cfg.Models = append([]string(nil), cfg.Models...)
	if engine == nil {
		engine = aggregation.NewEngine(aggregation.DefaultConfig())
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		engine:    engine,
		publisher: publisher,
		log:       log.WithField("component", "refresh"),
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RunBatch runs a batch and reports whether it committed.
func (o *Orchestrator) RunBatch(ctx context.Context, lats, lons []float64, start, end time.Time, force bool) bool {
	_, err := o.Run(ctx, Request{Lats: lats, Lons: lons, Start: start, End: end, ForceUpdate: force})
	return err == nil
}

// Run refreshes every cell of the request. The batch is all or nothing: on
// the first failing cell the remaining work is cancelled and nothing of the
// batch is committed. The returned report names the failed cell.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	report := &Report{
		BatchID:   uuid.New(),
		RequestID: req.RequestID,
		Cells:     req.Cells(),
		StartedAt: time.Now().UTC(),
	}
	logger := o.log.WithFields(logrus.Fields{
		"batch_id": report.BatchID,
		"cells":    report.Cells,
		"force":    req.ForceUpdate,
	})

	if err := o.Validate(req); err != nil {
		report.FinishedAt = time.Now().UTC()
		logger.WithError(err).Warn("batch rejected")
		return report, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	logger.Info("batch started")

	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		return o.execute(ctx, tx, req, report, logger)
	})
	report.FinishedAt = time.Now().UTC()

	if err != nil {
		var ce *CellError
		if errors.As(err, &ce) {
			report.Failed = &Cell{Index: ce.Cell.Index, Lat: ce.Cell.Lat, Lon: ce.Cell.Lon, Error: ce.Err.Error()}
		}
		logger.WithError(err).WithField("duration", report.Duration()).Error("batch failed, nothing committed")
		return report, err
	}

	report.Committed = true
	logger.WithFields(logrus.Fields{
		"skipped":  report.Skipped,
		"fetched":  report.Fetched,
		"rows":     report.Rows,
		"duration": report.Duration(),
	}).Info("batch committed")

	if o.publisher != nil {
		if err := o.publisher.PublishBatchCompleted(ctx, report); err != nil {
			logger.WithError(err).Warn("failed to publish batch completion")
		}
	}

	return report, nil
}

// CellError ties a failure to the grid cell it happened at.
type CellError struct {
	Cell Cell
	Err  error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell %d (%v, %v): %v", e.Cell.Index, e.Cell.Lat, e.Cell.Lon, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

type cellResult struct {
	cell    Cell
	skipped bool
	exists  bool
	rows    []climate.MonthlySummary
	err     error
}

// errWorkerFailed tells execute that the writer stopped because a worker
// failed; the worker's own error is the one to report.
var errWorkerFailed = errors.New("worker failed")

// execute fans fetch and aggregation out to the worker pool and persists the
// results in grid order on tx. At most 2×Workers results are held in memory.
func (o *Orchestrator) execute(ctx context.Context, tx *sql.Tx, req Request, report *Report, logger logrus.FieldLogger) error {
	cells := gridCells(req.Lats, req.Lons)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.Workers)

	results := make([]chan cellResult, len(cells))
	for i := range results {
		results[i] = make(chan cellResult, 1)
	}
	window := make(chan struct{}, 2*o.cfg.Workers)

	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i, cell := range cells {
			i, cell := i, cell
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				res := o.processCell(gctx, cell, req)
				results[i] <- res
				return res.err
			})
		}
	}()

	writeErr := o.writeInOrder(gctx, tx, cells, results, window, req, report, logger)
	cancel()
	<-produced
	groupErr := g.Wait()

	switch {
	case writeErr == nil:
		return groupErr
	case groupErr != nil && errors.Is(writeErr, context.Canceled):
		// The writer saw the cancellation caused by a failed worker.
		return groupErr
	case errors.Is(writeErr, errWorkerFailed):
		if groupErr != nil {
			return groupErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeErr
	default:
		return writeErr
	}
}

func (o *Orchestrator) writeInOrder(
	ctx context.Context,
	tx *sql.Tx,
	cells []Cell,
	results []chan cellResult,
	window <-chan struct{},
	req Request,
	report *Report,
	logger logrus.FieldLogger,
) error {
	for i := range cells {
		var res cellResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			return errWorkerFailed
		}
		<-window

		if res.err != nil {
			return errWorkerFailed
		}

		cellLog := logger.WithFields(logrus.Fields{"lat": res.cell.Lat, "lon": res.cell.Lon})
		if res.skipped {
			report.Skipped++
			cellLog.Debug("cell already cached, skipped")
			continue
		}
		if len(res.rows) == 0 {
			report.Fetched++
			cellLog.Warn("provider returned no values, nothing to write")
			continue
		}

		locID, err := o.store.ResolveLocation(ctx, tx, res.cell.Lat, res.cell.Lon)
		if err != nil {
			return &CellError{Cell: res.cell, Err: err}
		}
		for j := range res.rows {
			res.rows[j].LocID = locID
		}

		mode := database.InsertNew
		if res.exists && req.ForceUpdate {
			mode = database.Replace
		}
		n, err := o.store.Upsert(ctx, tx, res.rows, mode)
		if err != nil {
			return &CellError{Cell: res.cell, Err: err}
		}

		report.Fetched++
		report.Rows += n
		cellLog.WithFields(logrus.Fields{
			"loc_id": locID,
			"mode":   mode.String(),
			"rows":   n,
		}).Debug("cell written")
	}
	return nil
}

// processCell runs the check, fetch and aggregate steps for one cell.
func (o *Orchestrator) processCell(ctx context.Context, cell Cell, req Request) cellResult {
	res := cellResult{cell: cell}

	exists, err := o.store.HasMonthly(ctx, nil, cell.Lat, cell.Lon, req.Start, req.End)
	if err != nil {
		res.err = &CellError{Cell: cell, Err: err}
		return res
	}
	res.exists = exists
	if exists && !req.ForceUpdate {
		res.skipped = true
		return res
	}

	rows, err := o.fetchMonthly(ctx, o.engine, cell.Lat, cell.Lon, req.Start, req.End)
	if err != nil {
		res.err = &CellError{Cell: cell, Err: err}
		return res
	}
	res.rows = rows
	return res
}

func (o *Orchestrator) fetchMonthly(ctx context.Context, engine *aggregation.Engine, lat, lon float64, start, end time.Time) ([]climate.MonthlySummary, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	series, err := o.fetcher.Fetch(fetchCtx, climate.Query{
		Lat:    lat,
		Lon:    lon,
		Start:  start,
		End:    end,
		Models: o.cfg.Models,
		Fields: engine.Fields(),
	})
	if err != nil {
		if !errors.Is(err, climate.ErrAdapter) {
			err = fmt.Errorf("%w: %w", climate.ErrAdapter, err)
		}
		return nil, err
	}

	return engine.Summarize(0, series)
}

// Lookup fetches and aggregates one location without persisting anything.
// An empty fields list aggregates every field.
func (o *Orchestrator) Lookup(ctx context.Context, lat, lon float64, start, end time.Time, fields []climate.Field) ([]climate.MonthlySummary, error) {
	if err := climate.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if err := o.validateDates(start, end); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: unsupported field %q", climate.ErrValidation, f)
		}
	}

	engine := o.engine
	if len(fields) > 0 {
		engine = aggregation.NewEngine(aggregation.Config{Fields: fields})
	}
	return o.fetchMonthly(ctx, engine, lat, lon, start, end)
}

// gridCells enumerates lats × lons with lats as the outer loop.
func gridCells(lats, lons []float64) []Cell {
	cells := make([]Cell, 0, len(lats)*len(lons))
	for _, lat := range lats {
		for _, lon := range lons {
			cells = append(cells, Cell{Index: len(cells), Lat: lat, Lon: lon})
		}
	}
	return cells
}
