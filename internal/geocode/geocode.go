// Package geocode resolves a free-form address to coordinates using the
// geocode.maps.co search API.
package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/httputil"
	"github.com/lox/weatherlanding/internal/metrics"
	"github.com/lox/weatherlanding/internal/models"
)

const DefaultBaseURL = "https://geocode.maps.co/search"

// Client resolves addresses. It takes the first search result as-is; there is
// no disambiguation and no retry.
type Client struct {
	http    httputil.Getter
	baseURL string
	apiKey  string
	log     *zap.Logger
}

func NewClient(http httputil.Getter, baseURL, apiKey string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    http,
		baseURL: baseURL,
		apiKey:  apiKey,
		log:     log.Named("geocode"),
	}
}

type searchResult struct {
	Lat         json.Number `json:"lat"`
	Lon         json.Number `json:"lon"`
	DisplayName string      `json:"display_name"`
}

// SearchURL builds the query for address. Spaces become commas, which the
// search API treats as component separators.
func (c *Client) SearchURL(address string) string {
	q := url.Values{}
	q.Set("q", strings.ReplaceAll(address, " ", ","))
	q.Set("api_key", c.apiKey)
	return c.baseURL + "?" + q.Encode()
}

// Resolve looks up address. Every failure is marked failure.ErrGeocode.
func (c *Client) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	if strings.TrimSpace(address) == "" {
		return models.Coordinates{}, failure.Newf(failure.ErrGeocode, "empty address")
	}

	start := time.Now()
	resp, err := c.http.Get(ctx, c.SearchURL(address))
	metrics.APILatency.WithLabelValues("geocode", "search").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICallsTotal.WithLabelValues("geocode", "search", "error").Inc()
		return models.Coordinates{}, failure.Mark(err, failure.ErrGeocode, "geocode lookup")
	}
	metrics.APICallsTotal.WithLabelValues("geocode", "search", strconv.Itoa(resp.Status)).Inc()

	if !resp.OK() {
		return models.Coordinates{}, failure.Newf(failure.ErrGeocode, "geocode lookup: unexpected status %d", resp.Status)
	}

	var results []searchResult
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return models.Coordinates{}, failure.Mark(err, failure.ErrGeocode, "decode geocode response")
	}
	if len(results) == 0 {
		return models.Coordinates{}, failure.Newf(failure.ErrGeocode, "no results for %q", address)
	}

	first := results[0]
	coords := models.Coordinates{
		Latitude:  first.Lat.String(),
		Longitude: first.Lon.String(),
	}
	if _, err := strconv.ParseFloat(coords.Latitude, 64); err != nil {
		return models.Coordinates{}, failure.Mark(err, failure.ErrGeocode, "parse latitude")
	}
	if _, err := strconv.ParseFloat(coords.Longitude, 64); err != nil {
		return models.Coordinates{}, failure.Mark(err, failure.ErrGeocode, "parse longitude")
	}

	c.log.Info("resolved address",
		zap.String("address", address),
		zap.String("match", first.DisplayName),
		zap.String("latitude", coords.Latitude),
		zap.String("longitude", coords.Longitude),
		zap.Int("candidates", len(results)),
	)
	return coords, nil
}
