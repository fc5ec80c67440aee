package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// rawResponse is a fully read response. Client errors (4xx other than 429)
// come back as a rawResponse rather than an error so they neither trip the
// breaker nor get retried.
type rawResponse struct {
	status int
	body   []byte
}

// doRequestWithResilience executes the HTTP request with retries, exponential
// backoff and a circuit breaker. Network errors, 5xx and 429 are retried.
func doRequestWithResilience(
	ctx context.Context,
	client *http.Client,
	backoff BackoffConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (*rawResponse, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}
	if backoff.MaxRetries < 0 || backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, err
		}

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			}

			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, readErr
			}
			return &rawResponse{status: resp.StatusCode, body: body}, nil
		})

		if err == nil {
			resp, ok := result.(*rawResponse)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		if attempt >= backoff.MaxRetries {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		delay := backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > backoff.MaxInterval && backoff.MaxInterval > 0 {
			delay = backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}
