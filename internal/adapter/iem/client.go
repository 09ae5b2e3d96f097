// Package iem fetches archived VTEC flood events from the Iowa
// Environmental Mesonet.
package iem

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

const sourceName = "iem"

// Client implements domain.AlertSource against the IEM VTEC archive.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	politeDelay time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates an IEM archive client.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     "https://mesonet.agron.iastate.edu/json/vtec_events.py",
		politeDelay: 200 * time.Millisecond,
		metrics:     metrics,
		logger:      logger,
	}
}

// FetchAlerts requests each of the region's WFOs for the span's year and
// filters events to the span and region. The archive only supports per-year
// queries, so month filtering happens client-side.
func (c *Client) FetchAlerts(ctx context.Context, region domain.Region, span domain.MonthSpan) ([]domain.AlertRecord, error) {
	var out []domain.AlertRecord
	for i, wfo := range region.WFOs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.politeDelay):
			}
		}

		events, err := c.fetchYear(ctx, wfo, span.Year)
		if err != nil {
			return nil, err
		}

		for _, ev := range events {
			issued, err := parseIssue(ev.Issue)
			if err != nil {
				c.logger.Warn("skipping event with unparseable issue time",
					"wfo", wfo,
					"event_id", ev.EventID,
					"issue", ev.Issue,
				)
				continue
			}
			if !span.Contains(issued) {
				continue
			}
			if !region.MatchesArea(ev.Locations) {
				continue
			}

			phName, sigName := ev.PhName, ev.SigName
			if phName == "" {
				phName = "Flood"
			}
			if sigName == "" {
				sigName = domain.SigWarning
			}
			out = append(out, domain.AlertRecord{
				WFO:          wfo,
				EventID:      ev.EventID,
				Event:        phName + " " + sigName,
				Significance: sigName,
				Area:         ev.Locations,
				Issued:       issued,
				Certainty:    domain.CertaintyObserved,
				Urgency:      domain.UrgencyPast,
			})
		}
	}

	// Canonical order so identical fetches produce identical payloads.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Issued.Equal(out[j].Issued) {
			return out[i].Issued.Before(out[j].Issued)
		}
		if out[i].WFO != out[j].WFO {
			return out[i].WFO < out[j].WFO
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

func (c *Client) fetchYear(ctx context.Context, wfo string, year int) ([]event, error) {
	params := url.Values{
		"wfo":       {wfo},
		"phenomena": {"FL"},
		"year":      {strconv.Itoa(year)},
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
		return nil, fmt.Errorf("iem request %s/%d: %w: %v", wfo, year, domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "unavailable").Inc()
		return nil, fmt.Errorf("iem status %d for %s/%d: %w", resp.StatusCode, wfo, year, domain.ErrSourceUnavailable)
	default:
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("iem status %d for %s/%d: %s: %w", resp.StatusCode, wfo, year, body, domain.ErrSourceDataError)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(sourceName, "data_error").Inc()
		return nil, fmt.Errorf("decode iem response for %s/%d: %w: %v", wfo, year, domain.ErrSourceDataError, err)
	}
	c.metrics.UpstreamRequests.WithLabelValues(sourceName, "success").Inc()
	return payload.Events, nil
}

// issueLayouts covers the timestamp shapes the archive has been seen to
// emit. The last resort keeps only the date.
var issueLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseIssue(value string) (time.Time, error) {
	for _, layout := range issueLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable issue time %q", value)
}

// IEM API response types.

type response struct {
	Events []event `json:"events"`
}

type event struct {
	EventID   int    `json:"eventid"`
	PhName    string `json:"ph_name"`
	SigName   string `json:"sig_name"`
	Locations string `json:"locations"`
	Issue     string `json:"issue"`
}
