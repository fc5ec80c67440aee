package refresh

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/climate-cache/internal/aggregation"
	"github.com/smukkama/climate-cache/internal/climate"
	"github.com/smukkama/climate-cache/internal/database"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, q climate.Query) ([]climate.Series, error) {
	args := m.Called(ctx, q)
	series, _ := args.Get(0).([]climate.Series)
	return series, args.Error(1)
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []*Report
}

func (p *recordingPublisher) PublishBatchCompleted(_ context.Context, r *Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return nil
}

var (
	jan1  = time.Date(1950, time.January, 1, 0, 0, 0, 0, time.UTC)
	feb28 = time.Date(1950, time.February, 28, 0, 0, 0, 0, time.UTC)
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Connect(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "climate.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(ctx))
	return db
}

// constantSeries returns one model covering January and February 1950 with
// every field set to v.
func constantSeries(v float64) []climate.Series {
	const days = 59
	values := make(map[climate.Field][]float64, len(climate.AllFields))
	for _, f := range climate.AllFields {
		vals := make([]float64, days)
		for i := range vals {
			vals[i] = v
		}
		values[f] = vals
	}
	return []climate.Series{{
		Model:    "EC_Earth3P_HR",
		Start:    jan1,
		End:      jan1.Add(days * 24 * time.Hour),
		Interval: 24 * time.Hour,
		Values:   values,
	}}
}

func newOrchestrator(db Store, f Fetcher, cfg Config) *Orchestrator {
	return New(cfg, db, f, aggregation.NewEngine(aggregation.DefaultConfig()), nil, quietLogger())
}

func twoByTwo(force bool) Request {
	return Request{
		Lats:        []float64{0, 1},
		Lons:        []float64{0, 1},
		Start:       jan1,
		End:         feb28,
		ForceUpdate: force,
	}
}

func TestRun_PersistsEveryCell(t *testing.T) {
	db := newTestDB(t)
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(10), nil)

	pub := &recordingPublisher{}
	o := New(DefaultConfig(), db, fetcher, nil, pub, quietLogger())

	report, err := o.Run(context.Background(), twoByTwo(false))
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 4, report.Cells)
	assert.Equal(t, 4, report.Fetched)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, int64(8), report.Rows)
	fetcher.AssertNumberOfCalls(t, "Fetch", 4)

	id, found, err := db.LookupLocation(context.Background(), nil, 1, 0)
	require.NoError(t, err)
	require.True(t, found)
	rows, err := db.GetRange(context.Background(), id, jan1, feb28)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 10.0, *rows[1].TempMax)

	require.Len(t, pub.reports, 1)
	assert.Equal(t, report.BatchID, pub.reports[0].BatchID)
}

func TestRun_FailingCellPersistsNothing(t *testing.T) {
	db := newTestDB(t)
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(q climate.Query) bool {
		return q.Lat == 1 && q.Lon == 1
	})).Return(nil, errors.New("provider unreachable"))
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(10), nil)

	pub := &recordingPublisher{}
	o := New(DefaultConfig(), db, fetcher, nil, pub, quietLogger())

	report, err := o.Run(context.Background(), twoByTwo(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, climate.ErrAdapter)
	assert.False(t, o.RunBatch(context.Background(), []float64{0, 1}, []float64{0, 1}, jan1, feb28, false))

	require.NotNil(t, report.Failed)
	assert.Equal(t, 1.0, report.Failed.Lat)
	assert.Equal(t, 1.0, report.Failed.Lon)
	assert.Equal(t, 3, report.Failed.Index)

	ctx := context.Background()
	for _, lat := range []float64{0, 1} {
		for _, lon := range []float64{0, 1} {
			_, found, err := db.LookupLocation(ctx, nil, lat, lon)
			require.NoError(t, err)
			assert.False(t, found, "location (%v, %v) must not be registered", lat, lon)

			has, err := db.HasMonthly(ctx, nil, lat, lon, jan1, feb28)
			require.NoError(t, err)
			assert.False(t, has)
		}
	}
	assert.Empty(t, pub.reports)
}

func TestRun_OverCeilingNeverCallsAdapter(t *testing.T) {
	db := newTestDB(t)
	fetcher := &mockFetcher{}

	cfg := DefaultConfig()
	cfg.MaxCells = 3
	o := newOrchestrator(db, fetcher, cfg)

	_, err := o.Run(context.Background(), twoByTwo(false))
	assert.ErrorIs(t, err, climate.ErrValidation)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestRun_DefaultCeiling(t *testing.T) {
	fetcher := &mockFetcher{}
	o := newOrchestrator(nil, fetcher, Config{})

	lats := climate.Linspace(-90, 90, 71)
	lons := climate.Linspace(-180, 180, 71)
	_, err := o.Run(context.Background(), Request{Lats: lats, Lons: lons, Start: jan1, End: feb28})
	assert.ErrorIs(t, err, climate.ErrValidation)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestRun_ValidationBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty lats", Request{Lons: []float64{0}, Start: jan1, End: feb28}},
		{"lat out of range", Request{Lats: []float64{91}, Lons: []float64{0}, Start: jan1, End: feb28}},
		{"lon out of range", Request{Lats: []float64{0}, Lons: []float64{-181}, Start: jan1, End: feb28}},
		{"reversed dates", Request{Lats: []float64{0}, Lons: []float64{0}, Start: feb28, End: jan1}},
		{"missing dates", Request{Lats: []float64{0}, Lons: []float64{0}}},
		{"before window", Request{Lats: []float64{0}, Lons: []float64{0}, Start: jan1.AddDate(0, 0, -1), End: feb28}},
		{"after window", Request{Lats: []float64{0}, Lons: []float64{0}, Start: jan1, End: time.Date(2051, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &mockFetcher{}
			// A nil store panics if validation lets I/O through.
			o := newOrchestrator(nil, fetcher, DefaultConfig())

			report, err := o.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, climate.ErrValidation)
			assert.False(t, report.Succeeded())
			fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_SkipsPopulatedCells(t *testing.T) {
	db := newTestDB(t)
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(10), nil)
	o := newOrchestrator(db, fetcher, DefaultConfig())

	_, err := o.Run(context.Background(), twoByTwo(false))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), twoByTwo(false))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Skipped)
	assert.Zero(t, report.Fetched)
	fetcher.AssertNumberOfCalls(t, "Fetch", 4)
}

func TestRun_ForceReplacesPopulatedCells(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &mockFetcher{}
	first.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(10), nil)
	_, err := newOrchestrator(db, first, DefaultConfig()).Run(ctx, twoByTwo(false))
	require.NoError(t, err)

	second := &mockFetcher{}
	second.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(20), nil)
	report, err := newOrchestrator(db, second, DefaultConfig()).Run(ctx, twoByTwo(true))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Fetched)
	second.AssertNumberOfCalls(t, "Fetch", 4)

	id, found, err := db.LookupLocation(ctx, nil, 0, 1)
	require.NoError(t, err)
	require.True(t, found)
	row, err := db.GetMonthly(ctx, id, jan1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, *row.TempMean)
}

func TestRun_MalformedSeriesFailsBatch(t *testing.T) {
	db := newTestDB(t)
	bad := constantSeries(1)
	bad[0].Values[climate.FieldPrecip] = bad[0].Values[climate.FieldPrecip][:10]

	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(bad, nil)
	o := newOrchestrator(db, fetcher, DefaultConfig())

	report, err := o.Run(context.Background(), Request{Lats: []float64{5}, Lons: []float64{5}, Start: jan1, End: feb28})
	assert.ErrorIs(t, err, climate.ErrAdapter)
	require.NotNil(t, report.Failed)
	assert.Zero(t, report.Failed.Index)
}

func TestRun_ManyCellsKeepGridOrder(t *testing.T) {
	db := newTestDB(t)
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(3), nil)

	cfg := DefaultConfig()
	cfg.Workers = 3
	o := newOrchestrator(db, fetcher, cfg)

	req := Request{Lats: climate.Linspace(-10, 10, 6), Lons: climate.Linspace(20, 30, 5), Start: jan1, End: feb28}
	report, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 30, report.Fetched)

	// Locations are registered in grid order by the single writer.
	var prev int64
	for _, lat := range req.Lats {
		for _, lon := range req.Lons {
			id, found, err := db.LookupLocation(context.Background(), nil, lat, lon)
			require.NoError(t, err)
			require.True(t, found)
			assert.Greater(t, id, prev)
			prev = id
		}
	}
}

func TestRun_AllNullSeriesNotMarkedCached(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	req := Request{Lats: []float64{5}, Lons: []float64{6}, Start: jan1, End: feb28}

	empty := &mockFetcher{}
	empty.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(math.NaN()), nil)

	report, err := newOrchestrator(db, empty, DefaultConfig()).Run(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, report.Rows)

	has, err := db.HasMonthly(ctx, nil, 5, 6, jan1, feb28)
	require.NoError(t, err)
	assert.False(t, has)

	filled := &mockFetcher{}
	filled.On("Fetch", mock.Anything, mock.Anything).Return(constantSeries(7), nil)

	report, err = newOrchestrator(db, filled, DefaultConfig()).Run(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, int64(2), report.Rows)
	filled.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestLookup_DoesNotPersist(t *testing.T) {
	db := newTestDB(t)
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(q climate.Query) bool {
		return len(q.Fields) == 1 && q.Fields[0] == climate.FieldTempMax
	})).Return(constantSeries(7), nil)
	o := newOrchestrator(db, fetcher, DefaultConfig())

	rows, err := o.Lookup(context.Background(), 40, 50, jan1, feb28, []climate.Field{climate.FieldTempMax})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 7.0, *rows[0].TempMax)
	assert.Nil(t, rows[0].TempMean)

	_, found, err := db.LookupLocation(context.Background(), nil, 40, 50)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookup_Validation(t *testing.T) {
	o := newOrchestrator(nil, &mockFetcher{}, DefaultConfig())

	_, err := o.Lookup(context.Background(), 100, 0, jan1, feb28, nil)
	assert.ErrorIs(t, err, climate.ErrValidation)

	_, err = o.Lookup(context.Background(), 0, 0, jan1, feb28, []climate.Field{"humidity"})
	assert.ErrorIs(t, err, climate.ErrValidation)
}

func TestGridCells(t *testing.T) {
	cells := gridCells([]float64{1, 2}, []float64{10, 20, 30})
	require.Len(t, cells, 6)
	assert.Equal(t, Cell{Index: 0, Lat: 1, Lon: 10}, cells[0])
	assert.Equal(t, Cell{Index: 3, Lat: 2, Lon: 10}, cells[3])
	assert.Equal(t, Cell{Index: 5, Lat: 2, Lon: 30}, cells[5])
}
