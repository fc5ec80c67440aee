// Package openmeteo fetches daily climate model output from the Open-Meteo
// climate API.
package openmeteo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/smukkama/climate-cache/internal/cache"
	"github.com/smukkama/climate-cache/internal/climate"
)

const DefaultBaseURL = "https://climate-api.open-meteo.com/v1/climate"

// DefaultModels holds the Japanese and European high resolution models.
var DefaultModels = []string{"MRI_AGCM3_2_S", "EC_Earth3P_HR"}

// Config holds adapter settings.
type Config struct {
	BaseURL  string
	Models   []string
	Timeout  time.Duration
	CacheTTL time.Duration
	Backoff  BackoffConfig
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		Models:   DefaultModels,
		Timeout:  30 * time.Second,
		CacheTTL: time.Hour,
		Backoff: BackoffConfig{
			MaxRetries:      5,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

// Client implements the climate source adapter for Open-Meteo.
type Client struct {
	baseURL  string
	models   []string
	http     *http.Client
	backoff  BackoffConfig
	circuit  *gobreaker.CircuitBreaker
	cache    cache.Cache
	cacheTTL time.Duration
	log      logrus.FieldLogger
}

// New creates a Client. A nil httpClient gets one with cfg.Timeout; a nil
// cache disables response caching.
func New(cfg Config, httpClient *http.Client, c cache.Cache, log logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo-climate",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL:  cfg.BaseURL,
		models:   append([]string(nil), cfg.Models...),
		http:     httpClient,
		backoff:  cfg.Backoff,
		circuit:  cb,
		cache:    c,
		cacheTTL: cfg.CacheTTL,
		log:      log.WithField("component", "openmeteo"),
	}
}

// Models returns the models requested when a query names none.
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}

// Fetch returns one Series per model for the query. Every failure wraps
// climate.ErrAdapter.
func (c *Client) Fetch(ctx context.Context, q climate.Query) ([]climate.Series, error) {
	models := q.Models
	if len(models) == 0 {
		models = c.models
	}
	fields := q.Fields
	if len(fields) == 0 {
		fields = climate.AllFields
	}

	reqURL, err := c.buildURL(q, models, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", climate.ErrAdapter, err)
	}
	key := cacheKey(reqURL)
	logger := c.log.WithFields(logrus.Fields{"lat": q.Lat, "lon": q.Lon})

	if body, ok := c.cached(ctx, key, logger); ok {
		series, err := decodeResponse(body, models, fields)
		if err == nil {
			logger.Debug("climate response served from cache")
			return series, nil
		}
		logger.WithError(err).Warn("discarding undecodable cached response")
	}

	resp, err := doRequestWithResilience(ctx, c.http, c.backoff, c.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", climate.ErrAdapter, err)
	}

	if resp.status < 200 || resp.status >= 300 {
		return nil, fmt.Errorf("%w: provider returned %d: %s", climate.ErrAdapter, resp.status, providerReason(resp.body))
	}

	series, err := decodeResponse(resp.body, models, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", climate.ErrAdapter, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, resp.body, c.cacheTTL); err != nil {
			logger.WithError(err).Warn("failed to cache climate response")
		}
	}

	logger.WithField("models", len(series)).Debug("fetched climate data")
	return series, nil
}

func (c *Client) cached(ctx context.Context, key string, logger logrus.FieldLogger) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	body, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.WithError(err).Warn("climate cache unavailable")
		return nil, false
	}
	return body, ok
}

func (c *Client) buildURL(q climate.Query, models []string, fields []climate.Field) (string, error) {
	if q.End.Before(q.Start) {
		return "", errors.New("end date before start date")
	}

	daily := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.Valid() {
			return "", fmt.Errorf("unsupported field %q", f)
		}
		daily = append(daily, f.APIVariable())
	}

	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(q.Lon, 'f', -1, 64))
	values.Set("start_date", q.Start.UTC().Format(climate.DateLayout))
	values.Set("end_date", q.End.UTC().Format(climate.DateLayout))
	values.Set("models", strings.Join(models, ","))
	values.Set("daily", strings.Join(daily, ","))
	values.Set("timeformat", "unixtime")

	return fmt.Sprintf("%s?%s", c.baseURL, values.Encode()), nil
}

func cacheKey(reqURL string) string {
	sum := sha256.Sum256([]byte(reqURL))
	return hex.EncodeToString(sum[:])
}
