package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/climate-cache/internal/climate"
	"github.com/smukkama/climate-cache/internal/database"
	"github.com/smukkama/climate-cache/internal/protocol"
	"github.com/smukkama/climate-cache/internal/refresh"
)

// Store is the read side of the cache.
type Store interface {
	LookupLocation(ctx context.Context, q database.Querier, lat, lon float64) (int64, bool, error)
	GetLocation(ctx context.Context, id int64) (*climate.Location, error)
	GetMonthly(ctx context.Context, locID int64, month time.Time) (*climate.MonthlySummary, error)
	GetRange(ctx context.Context, locID int64, start, end time.Time) ([]climate.MonthlySummary, error)
	GetGrid(ctx context.Context, month time.Time, field climate.Field, lats, lons []float64) (*database.Grid, error)
	Health(ctx context.Context) error
}

// Refresher runs batches and ad-hoc lookups.
type Refresher interface {
	Config() refresh.Config
	Validate(req refresh.Request) error
	Run(ctx context.Context, req refresh.Request) (*refresh.Report, error)
	Lookup(ctx context.Context, lat, lon float64, start, end time.Time, fields []climate.Field) ([]climate.MonthlySummary, error)
}

// Enqueuer hands batch requests to the refresher process.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *protocol.BatchRequestMessage) error
}

// Options configures the handlers.
type Options struct {
	MapNLat int
	MapNLon int
}

// Handler serves the JSON API.
type Handler struct {
	store     Store
	refresher Refresher
	queue     Enqueuer
	opts      Options
	log       logrus.FieldLogger
}

// NewHandler creates a Handler. queue may be nil, which disables async batches.
func NewHandler(store Store, refresher Refresher, queue Enqueuer, opts Options, log logrus.FieldLogger) *Handler {
	if opts.MapNLat < 2 {
		opts.MapNLat = 91
	}
	if opts.MapNLon < 2 {
		opts.MapNLon = 91
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		store:     store,
		refresher: refresher,
		queue:     queue,
		opts:      opts,
		log:       log.WithField("component", "api"),
	}
}

// NewApp builds a Fiber app with the JSON error handler and every route.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "climate-cache",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	RegisterRoutes(app, h)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}

// failure maps a core error to a client-facing error. Only validation and
// not-found details reach the client; everything else is generic.
func (h *Handler) failure(err error, generic string) error {
	switch {
	case errors.Is(err, climate.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, climate.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "no climate data for requested location")
	default:
		h.log.WithError(err).Error(generic)
		return fiber.NewError(fiber.StatusInternalServerError, generic)
	}
}
