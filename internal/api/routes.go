package api

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/smukkama/climate-cache/internal/climate"
	"github.com/smukkama/climate-cache/internal/protocol"
	"github.com/smukkama/climate-cache/internal/refresh"
)

var validate = validator.New()

// mapScale returns the display bounds of the map colour scale for field.
func mapScale(field climate.Field) fiber.Map {
	if field.IsTemperature() {
		return fiber.Map{"min": -20.0, "max": 40.0, "unit": "°C"}
	}
	return fiber.Map{"min": 0.0, "max": 10.0, "unit": "mm"}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.health)

	v1 := app.Group("/api/v1")
	v1.Get("/locations/monthly", h.getMonthly)
	v1.Get("/locations/range", h.getRange)
	v1.Get("/locations/lookup", h.lookup)
	v1.Get("/maps", h.getMap)
	v1.Post("/batches", h.postBatch)
}

func (h *Handler) health(c *fiber.Ctx) error {
	if err := h.store.Health(c.UserContext()); err != nil {
		h.log.WithError(err).Warn("health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery
	var err error

	if q.Lat, err = parseFloatQuery(c, "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = parseFloatQuery(c, "lon"); err != nil {
		return q, err
	}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

func parseFloatQuery(c *fiber.Ctx, key string) (float64, error) {
	s := c.Query(key)
	if s == "" {
		return 0, fmt.Errorf("%s query parameter is required", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return v, nil
}

// rangeQuery holds query parameters for the range and lookup endpoints.
type rangeQuery struct {
	Location locationQuery
	From     string `validate:"required,datetime=2006-01-02"`
	To       string `validate:"required,datetime=2006-01-02"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	r.Location = loc
	r.From = c.Query("from")
	r.To = c.Query("to")
	return validate.Struct(r)
}

func (h *Handler) getMonthly(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	month, err := climate.ParseMonth(c.Query("month"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	locID, found, err := h.store.LookupLocation(ctx, nil, loc.Lat, loc.Lon)
	if err != nil {
		return h.failure(err, "failed to fetch climate data")
	}
	if !found {
		return h.failure(climate.ErrNotFound, "")
	}

	row, err := h.store.GetMonthly(ctx, locID, month)
	if err != nil {
		return h.failure(err, "failed to fetch climate data")
	}
	return c.JSON(row)
}

func (h *Handler) getRange(c *fiber.Ctx) error {
	var req rangeQuery
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	from, to, err := orderedDates(req.From, req.To)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	locID, found, err := h.store.LookupLocation(ctx, nil, req.Location.Lat, req.Location.Lon)
	if err != nil {
		return h.failure(err, "failed to fetch climate history")
	}
	if !found {
		return h.failure(climate.ErrNotFound, "")
	}

	loc, err := h.store.GetLocation(ctx, locID)
	if err != nil {
		return h.failure(err, "failed to fetch climate history")
	}
	rows, err := h.store.GetRange(ctx, locID, from, to)
	if err != nil {
		return h.failure(err, "failed to fetch climate history")
	}
	if rows == nil {
		rows = []climate.MonthlySummary{}
	}

	return c.JSON(fiber.Map{
		"loc_id": loc.ID,
		"lat":    loc.Lat,
		"lon":    loc.Lon,
		"from":   from.Format(climate.DateLayout),
		"to":     to.Format(climate.DateLayout),
		"months": rows,
	})
}

func (h *Handler) lookup(c *fiber.Ctx) error {
	var req rangeQuery
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	from, to, err := orderedDates(req.From, req.To)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var fields []climate.Field
	if raw := c.Query("fields"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			f, err := climate.ParseField(strings.TrimSpace(name))
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			fields = append(fields, f)
		}
	}

	rows, err := h.refresher.Lookup(c.UserContext(), req.Location.Lat, req.Location.Lon, from, to, fields)
	if err != nil {
		return h.failure(err, "failed to fetch climate data")
	}
	return c.JSON(fiber.Map{
		"lat":    req.Location.Lat,
		"lon":    req.Location.Lon,
		"months": rows,
	})
}

func (h *Handler) getMap(c *fiber.Ctx) error {
	month, err := climate.ParseMonth(c.Query("month"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	field, err := climate.ParseField(c.Query("type", string(climate.FieldTempMean)))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	lats := climate.Linspace(-90, 90, h.opts.MapNLat)
	lons := climate.Linspace(-180, 180, h.opts.MapNLon)

	grid, err := h.store.GetGrid(c.UserContext(), month, field, lats, lons)
	if err != nil {
		return h.failure(err, "failed to fetch map data")
	}

	return c.JSON(fiber.Map{
		"month":   grid.Month.Format(climate.MonthLayout),
		"type":    grid.Field,
		"lats":    grid.Lats,
		"lons":    grid.Lons,
		"values":  grid.Values,
		"missing": grid.Missing,
		"scale":   mapScale(field),
	})
}

// batchBody is the payload of POST /batches.
type batchBody struct {
	LatStart    float64 `json:"lat_start" validate:"gte=-90,lte=90"`
	LatEnd      float64 `json:"lat_end" validate:"gte=-90,lte=90"`
	NLat        int     `json:"n_lat" validate:"gte=1"`
	LonStart    float64 `json:"lon_start" validate:"gte=-180,lte=180"`
	LonEnd      float64 `json:"lon_end" validate:"gte=-180,lte=180"`
	NLon        int     `json:"n_lon" validate:"gte=1"`
	DateStart   string  `json:"date_start" validate:"required,datetime=2006-01-02"`
	DateEnd     string  `json:"date_end" validate:"required,datetime=2006-01-02"`
	ForceUpdate bool    `json:"force_update"`
	Async       bool    `json:"async"`
}

func (h *Handler) postBatch(c *fiber.Ctx) error {
	var body batchBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	maxCells := h.refresher.Config().MaxCells
	if int64(body.NLat)*int64(body.NLon) > int64(maxCells) {
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("%d × %d cells exceeds the limit of %d", body.NLat, body.NLon, maxCells))
	}

	// Reversed bounds are accepted and swapped.
	if body.LatStart > body.LatEnd {
		body.LatStart, body.LatEnd = body.LatEnd, body.LatStart
	}
	if body.LonStart > body.LonEnd {
		body.LonStart, body.LonEnd = body.LonEnd, body.LonStart
	}
	start, end, err := orderedDates(body.DateStart, body.DateEnd)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	req := refresh.Request{
		Lats:        climate.Linspace(body.LatStart, body.LatEnd, body.NLat),
		Lons:        climate.Linspace(body.LonStart, body.LonEnd, body.NLon),
		Start:       start,
		End:         end,
		ForceUpdate: body.ForceUpdate,
		RequestID:   uuid.NewString(),
	}
	if err := h.refresher.Validate(req); err != nil {
		return h.failure(err, "invalid batch")
	}

	ctx := c.UserContext()
	if body.Async {
		if h.queue == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "async batches are not available")
		}
		msg := &protocol.BatchRequestMessage{
			RequestID:   req.RequestID,
			Lats:        req.Lats,
			Lons:        req.Lons,
			DateStart:   start.Format(climate.DateLayout),
			DateEnd:     end.Format(climate.DateLayout),
			ForceUpdate: req.ForceUpdate,
			RequestedAt: time.Now().UTC(),
		}
		if err := h.queue.Enqueue(ctx, msg); err != nil {
			h.log.WithError(err).Error("failed to enqueue batch")
			return fiber.NewError(fiber.StatusServiceUnavailable, "failed to enqueue batch")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"request_id": req.RequestID,
			"cells":      req.Cells(),
			"status":     "queued",
		})
	}

	report, err := h.refresher.Run(ctx, req)
	if err != nil {
		if errors.Is(err, climate.ErrValidation) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		h.log.WithError(err).WithField("request_id", req.RequestID).Error("batch failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "batch failed, nothing was committed",
			"report": publicReport(report),
		})
	}
	return c.JSON(report)
}

// publicReport strips the failed cell's error text, which stays in the log.
func publicReport(report *refresh.Report) *refresh.Report {
	if report == nil || report.Failed == nil {
		return report
	}
	out := *report
	failed := *report.Failed
	failed.Error = ""
	out.Failed = &failed
	return &out
}

// orderedDates parses two YYYY-MM-DD dates and swaps them when reversed.
func orderedDates(a, b string) (start, end time.Time, err error) {
	if start, err = climate.ParseDate(a); err != nil {
		return
	}
	if end, err = climate.ParseDate(b); err != nil {
		return
	}
	if start.After(end) {
		start, end = end, start
	}
	return
}
