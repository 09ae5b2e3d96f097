// Package epqs fetches ground elevations from the USGS Elevation Point
// Query Service.
package epqs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

const sourceName = "epqs"

// Client implements domain.ElevationSource using the EPQS v1 API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an EPQS client.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://epqs.nationalmap.gov/v1/json",
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchElevation returns the ground elevation at a point in meters.
func (c *Client) FetchElevation(ctx context.Context, lat, lon float64) (*float64, error) {
	params := url.Values{
		"x":           {fmt.Sprintf("%.6f", lon)},
		"y":           {fmt.Sprintf("%.6f", lat)},
		"units":       {"Meters"},
		"wkid":        {"4326"},
		"includeDate": {"false"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("epqs request: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("epqs status %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	default:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("epqs status %d: %s: %w", resp.StatusCode, body, domain.ErrSourceDataError)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		return nil, fmt.Errorf("decode epqs response: %w: %v", domain.ErrSourceDataError, err)
	}

	// The service has shipped the elevation under two different keys and as
	// both number and string.
	raw := payload.Value
	if raw == nil {
		raw = payload.Elevation
	}
	m, err := coerceFloat(raw)
	if err != nil || m == nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		return nil, fmt.Errorf("epqs elevation for %.4f,%.4f: %v: %w", lat, lon, err, domain.ErrSourceDataError)
	}
	c.metrics.UpstreamRequests.WithLabelValues(sourceName, "success").Inc()
	return m, nil
}

func coerceFloat(v any) (*float64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, fmt.Errorf("non-numeric value %q", x)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unexpected value type %T", v)
	}
}

// EPQS API response types.

type response struct {
	Value     any `json:"value"`
	Elevation any `json:"elevation"`
}
