package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/httputil"
	"github.com/lox/weatherlanding/internal/metrics"
	"github.com/lox/weatherlanding/internal/models"
)

// Client probes and extracts from OpenWeather sources.
type Client struct {
	http httputil.Getter
	log  *zap.Logger
	now  func() time.Time
}

func NewClient(http httputil.Getter, log *zap.Logger) *Client {
	return &Client{
		http: http,
		log:  log.Named("ingest"),
		now:  time.Now,
	}
}

// Probe reports whether src answers with a 2xx for coords. It never fails:
// transport errors are logged and reported as unhealthy.
func (c *Client) Probe(ctx context.Context, src Source, coords models.Coordinates) (healthy bool) {
	log := c.log.With(zap.String("source", string(src.Kind)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("probe panicked", zap.Any("panic", r))
			healthy = false
		}
	}()

	resp, err := c.get(ctx, src, "probe", coords)
	if err != nil {
		log.Warn("probe request failed", zap.Error(err))
		return false
	}
	if !resp.OK() {
		log.Warn("probe returned non-success status", zap.Int("status", resp.Status))
		return false
	}
	log.Debug("probe ok", zap.Int("status", resp.Status))
	return true
}

// Extract fetches the source's current document. When healthy is false it
// returns models.Empty() without touching the network. Once the probe has
// vouched for the source, every failure is surfaced as failure.ErrExtraction.
func (c *Client) Extract(ctx context.Context, src Source, coords models.Coordinates, healthy bool) (models.Extraction, error) {
	if !healthy {
		c.log.Info("source unhealthy, skipping extraction", zap.String("source", string(src.Kind)))
		return models.Empty(), nil
	}

	resp, err := c.get(ctx, src, "extract", coords)
	if err != nil {
		return models.Empty(), failure.Mark(err, failure.ErrExtraction, fmt.Sprintf("extract %s", src.Kind))
	}
	if !resp.OK() {
		return models.Empty(), failure.Newf(failure.ErrExtraction, "extract %s: unexpected status %d: %s",
			src.Kind, resp.Status, truncateBody(resp.Body))
	}
	if !json.Valid(resp.Body) {
		return models.Empty(), failure.Newf(failure.ErrExtraction, "extract %s: response is not JSON: %s",
			src.Kind, truncateBody(resp.Body))
	}

	c.log.Info("collected response",
		zap.String("source", string(src.Kind)),
		zap.Int("bytes", len(resp.Body)),
	)

	return models.Fetched(models.RawResponse{
		Source:    src.Kind,
		URL:       httputil.RedactURL(src.URL(coords)),
		Status:    resp.Status,
		Body:      json.RawMessage(resp.Body),
		FetchedAt: c.now().UTC(),
	}), nil
}

func (c *Client) get(ctx context.Context, src Source, step string, coords models.Coordinates) (httputil.Response, error) {
	start := time.Now()
	resp, err := c.http.Get(ctx, src.URL(coords))
	metrics.APILatency.WithLabelValues(string(src.Kind), src.endpoint()).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.Status)
	}
	metrics.APICallsTotal.WithLabelValues(string(src.Kind), src.endpoint(), status).Inc()
	c.log.Debug("upstream call",
		zap.String("source", string(src.Kind)),
		zap.String("step", step),
		zap.String("status", status),
		zap.Duration("took", time.Since(start)),
	)
	return resp, err
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}
