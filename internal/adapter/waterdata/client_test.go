package waterdata

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func testClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    testMetrics(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func texasRegion() domain.Region {
	return domain.Region{State: "Texas", Abbrev: "TX", FIPS: "48", WFOs: []string{"EWX"}}
}

func TestClient_FetchStations_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/monitoring-locations/items", r.URL.Path)
		assert.Equal(t, "48", r.URL.Query().Get("state_code"))
		assert.Equal(t, "ST", r.URL.Query().Get("site_type_code"))
		assert.Equal(t, "5000", r.URL.Query().Get("limit"))

		fc := featureCollection{
			NumberReturned: 3,
			Features: []feature{
				{
					Geometry:   &geometry{Type: "Point", Coordinates: []float64{-97.7431, 30.2672}},
					Properties: properties{Number: "08158000", Name: "Colorado Rv at Austin, TX"},
				},
				{
					Geometry:   &geometry{Type: "Point", Coordinates: []float64{-95.3698, 29.7604}},
					Properties: properties{Number: "08074000", Name: "Buffalo Bayou at Houston, TX"},
				},
				{
					// No geometry, must be skipped.
					Properties: properties{Number: "08999999", Name: "Orphan"},
				},
			},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(fc))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	stations, err := c.FetchStations(context.Background(), texasRegion())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	assert.Equal(t, "08074000", stations[0].Number, "stations sort by number")
	assert.Equal(t, "08158000", stations[1].Number)
	assert.Equal(t, 30.2672, stations[1].Lat)
	assert.Equal(t, -97.7431, stations[1].Lon)
	assert.Equal(t, "Colorado Rv at Austin, TX", stations[1].Name)
}

func TestClient_FetchStations_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.URL.Query().Get("api_key"))
		fc := featureCollection{
			NumberReturned: 1,
			Features: []feature{{
				Geometry:   &geometry{Type: "Point", Coordinates: []float64{-97.0, 30.0}},
				Properties: properties{Number: "08158000"},
			}},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(fc))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.apiKey = "secret-key"
	_, err := c.FetchStations(context.Background(), texasRegion())
	require.NoError(t, err)
}

func TestClient_FetchStations_EmptyInventoryIsDataError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(featureCollection{NumberReturned: 0}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchStations(context.Background(), texasRegion())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceDataError)
}

func TestClient_FetchStations_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchStations(context.Background(), texasRegion())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestClient_FetchGageHeight_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/daily/items", r.URL.Path)
		assert.Equal(t, "USGS-08158000", r.URL.Query().Get("monitoring_location_id"))
		assert.Equal(t, "00065", r.URL.Query().Get("parameter_code"))
		assert.Equal(t, "2024-04-26", r.URL.Query().Get("time"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))

		fc := featureCollection{
			NumberReturned: 1,
			Features:       []feature{{Properties: properties{Value: 4.25}}},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(fc))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	day := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	ft, err := c.FetchGageHeight(context.Background(), "08158000", day)
	require.NoError(t, err)
	require.NotNil(t, ft)
	assert.Equal(t, 4.25, *ft)
}

func TestClient_FetchGageHeight_StringValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"numberReturned":1,"features":[{"properties":{"value":"4.25"}}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ft, err := c.FetchGageHeight(context.Background(), "08158000", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, ft)
	assert.Equal(t, 4.25, *ft)
}

func TestClient_FetchGageHeight_NoObservationIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(featureCollection{}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ft, err := c.FetchGageHeight(context.Background(), "08158000", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, ft)
}

func TestClient_FetchGageHeight_GarbageValueIsDataError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"numberReturned":1,"features":[{"properties":{"value":"ice"}}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchGageHeight(context.Background(), "08158000", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceDataError)
}

func TestClient_FetchGageHeight_RateLimitIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchGageHeight(context.Background(), "08158000", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestCoerceFloat(t *testing.T) {
	got, err := coerceFloat(3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, *got)

	got, err = coerceFloat("3.5")
	require.NoError(t, err)
	assert.Equal(t, 3.5, *got)

	got, err = coerceFloat(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = coerceFloat(true)
	require.Error(t, err)
}
