// Package cdo fetches daily precipitation totals from NOAA's Climate Data
// Online API.
package cdo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

const sourceName = "cdo"

// extentDelta is the half-width in degrees of the bounding box searched for
// GHCND stations around the sample point, roughly 25 km.
const extentDelta = 0.25

// Client implements domain.RainfallSource using the NOAA CDO API. Requests
// require a free API token.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a NOAA CDO client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://www.ncdc.noaa.gov/cdo-web/api/v2/data",
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchPrecip sums the GHCND PRCP observations within the extent around the
// point over the 24 hours ending on the given day, in millimeters. A window
// with stations but no rain sums to zero; that is a real observation, not a
// missing one.
func (c *Client) FetchPrecip(ctx context.Context, lat, lon float64, day time.Time) (*float64, error) {
	day = day.UTC()
	params := url.Values{
		"datasetid":  {"GHCND"},
		"datatypeid": {"PRCP"},
		"startdate":  {day.AddDate(0, 0, -1).Format("2006-01-02")},
		"enddate":    {day.Format("2006-01-02")},
		"units":      {"metric"},
		"limit":      {"1000"},
		"extent":     {fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", lat-extentDelta, lon-extentDelta, lat+extentDelta, lon+extentDelta)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("token", c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("cdo request: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("cdo status %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	default:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cdo status %d: %s: %w", resp.StatusCode, body, domain.ErrSourceDataError)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		return nil, fmt.Errorf("decode cdo response: %w: %v", domain.ErrSourceDataError, err)
	}
	c.metrics.UpstreamRequests.WithLabelValues(sourceName, "success").Inc()

	total := 0.0
	for _, r := range payload.Results {
		total += r.Value
	}
	return &total, nil
}

// NOAA CDO API response types.

type response struct {
	Results []result `json:"results"`
}

type result struct {
	Value float64 `json:"value"`
}
