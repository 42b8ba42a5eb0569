// Package routing получает дорожное расстояние между точками через OSRM.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	ErrNoRoute       = errors.New("routing: no route found")
	ErrUnavailable   = errors.New("routing: service unavailable")
	ErrNotConfigured = errors.New("routing: base url not configured")
)

const (
	defaultTimeout  = 5 * time.Second
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

// Client интерфейс расчёта расстояния.
type Client interface {
	DistanceKm(ctx context.Context, originLat, originLon, destLat, destLon float64) (float64, error)
}

// routeResponse описывает нужную часть ответа OSRM.
type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// OSRMClient ходит в OSRM /route/v1/driving.
type OSRMClient struct {
	baseURL    string
	httpClient *http.Client
	attempts   uint64
	backoff    time.Duration
}

// Option настраивает OSRMClient.
type Option func(*OSRMClient)

// WithRetry задаёт число попыток и паузу между ними.
func WithRetry(attempts uint64, backoff time.Duration) Option {
	return func(c *OSRMClient) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewOSRMClient создаёт HTTP-клиент OSRM.
func NewOSRMClient(baseURL string, timeout time.Duration, opts ...Option) *OSRMClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &OSRMClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DistanceKm возвращает длину маршрута в километрах.
// Сетевые ошибки и 5xx повторяются, отсутствие маршрута нет.
func (c *OSRMClient) DistanceKm(ctx context.Context, originLat, originLon, destLat, destLon float64) (float64, error) {
	if c.baseURL == "" {
		return 0, ErrNotConfigured
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid routing base url: %w", err)
	}
	// OSRM принимает координаты в порядке lon,lat
	u.Path = fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f", u.Path, originLon, originLat, destLon, destLat)
	u.RawQuery = "overview=false"

	var distance float64
	backoff := retry.WithMaxRetries(c.attempts-1, retry.NewConstant(c.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := c.fetch(ctx, u.String())
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		distance = d
		return nil
	})
	if err != nil {
		return 0, err
	}
	return distance, nil
}

func (c *OSRMClient) fetch(ctx context.Context, target string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest:
		return 0, ErrNoRoute
	default:
		return 0, fmt.Errorf("unexpected routing status: %d", resp.StatusCode)
	}

	var payload routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode routing response: %w", err)
	}
	if payload.Code != "" && payload.Code != "Ok" {
		return 0, ErrNoRoute
	}
	if len(payload.Routes) == 0 {
		return 0, ErrNoRoute
	}
	return payload.Routes[0].Distance / 1000, nil
}
