// Package waterdata fetches stream-gauge stations and daily gage heights
// from the USGS Water Data OGC API.
package waterdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

const sourceName = "waterdata"

// streamSiteType restricts the station inventory to stream gauges.
const streamSiteType = "ST"

// gageHeightParameter is the USGS parameter code for gage height in feet.
const gageHeightParameter = "00065"

// stationLimit caps the per-state inventory request.
const stationLimit = 5000

// Client implements domain.StationSource and domain.GaugeSource against the
// USGS Water Data OGC API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string // optional, raises rate limits
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a USGS Water Data client. The API key is optional.
func NewClient(timeout time.Duration, apiKey string, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.waterdata.usgs.gov/ogcapi/v0",
		apiKey:     apiKey,
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchStations returns every stream-gauge station in the region's state,
// sorted by station number. Features without a point geometry or station
// number are skipped.
func (c *Client) FetchStations(ctx context.Context, region domain.Region) ([]domain.GaugeStation, error) {
	params := url.Values{
		"state_code":     {region.FIPS},
		"site_type_code": {streamSiteType},
		"limit":          {strconv.Itoa(stationLimit)},
	}

	fc, err := c.getItems(ctx, "/collections/monitoring-locations/items", params)
	if err != nil {
		return nil, err
	}
	if fc.NumberReturned == 0 {
		return nil, fmt.Errorf("no stream stations for state %s (FIPS %s): %w", region.Abbrev, region.FIPS, domain.ErrSourceDataError)
	}

	out := make([]domain.GaugeStation, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Properties.Number == "" || f.Geometry == nil || f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			c.logger.Debug("skipping station feature with missing data",
				"state", region.Abbrev,
				"station", f.Properties.Number,
			)
			continue
		}
		out = append(out, domain.GaugeStation{
			Number: f.Properties.Number,
			Name:   f.Properties.Name,
			Lon:    f.Geometry.Coordinates[0],
			Lat:    f.Geometry.Coordinates[1],
		})
	}

	// Canonical order so identical fetches produce identical payloads.
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// FetchGageHeight returns the daily gage height for one station and day, or
// nil when the station reported nothing that day.
func (c *Client) FetchGageHeight(ctx context.Context, stationNumber string, day time.Time) (*float64, error) {
	params := url.Values{
		"monitoring_location_id": {"USGS-" + stationNumber},
		"parameter_code":         {gageHeightParameter},
		"time":                   {day.UTC().Format("2006-01-02")},
		"limit":                  {"1"},
	}

	fc, err := c.getItems(ctx, "/collections/daily/items", params)
	if err != nil {
		return nil, err
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	ft, err := coerceFloat(fc.Features[0].Properties.Value)
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		return nil, fmt.Errorf("gage height for %s on %s: %v: %w", stationNumber, day.UTC().Format("2006-01-02"), err, domain.ErrSourceDataError)
	}
	return ft, nil
}

func (c *Client) getItems(ctx context.Context, path string, params url.Values) (*featureCollection, error) {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("waterdata request %s: %w: %v", path, domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("waterdata status %d for %s: %w", resp.StatusCode, path, domain.ErrSourceUnavailable)
	default:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("waterdata status %d for %s: %s: %w", resp.StatusCode, path, body, domain.ErrSourceDataError)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		return nil, fmt.Errorf("decode waterdata response for %s: %w: %v", path, domain.ErrSourceDataError, err)
	}
	c.metrics.UpstreamRequests.WithLabelValues(sourceName, "success").Inc()
	return &fc, nil
}

// coerceFloat accepts the numeric and string encodings the API has been seen
// to emit for observation values.
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

// USGS OGC API response types (GeoJSON).

type featureCollection struct {
	NumberReturned int       `json:"numberReturned"`
	Features       []feature `json:"features"`
}

type feature struct {
	Geometry   *geometry  `json:"geometry"`
	Properties properties `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

type properties struct {
	Number string `json:"monitoring_location_number"`
	Name   string `json:"monitoring_location_name"`
	Value  any    `json:"value"`
}
