package epqs

import (
	"context"
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

func TestClient_FetchElevation_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-97.743100", r.URL.Query().Get("x"))
		assert.Equal(t, "30.267200", r.URL.Query().Get("y"))
		assert.Equal(t, "Meters", r.URL.Query().Get("units"))
		assert.Equal(t, "4326", r.URL.Query().Get("wkid"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":149.23}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	m, err := c.FetchElevation(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 149.23, *m)
}

func TestClient_FetchElevation_StringValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"149.23"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	m, err := c.FetchElevation(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 149.23, *m)
}

func TestClient_FetchElevation_LegacyElevationKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elevation":12.0}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	m, err := c.FetchElevation(context.Background(), 29.7604, -95.3698)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 12.0, *m)
}

func TestClient_FetchElevation_MissingValueIsDataError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"tile not found"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchElevation(context.Background(), 30.2672, -97.7431)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceDataError)
}

func TestClient_FetchElevation_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchElevation(context.Background(), 30.2672, -97.7431)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestClient_FetchElevation_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.FetchElevation(context.Background(), 30.2672, -97.7431)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}
