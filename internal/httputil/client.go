package httputil

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"

	"github.com/lox/weatherlanding/internal/failure"
)

const (
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 10 << 20
	userAgent    = "weatherlanding/1.0"
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// Response is what the pipeline needs from one GET.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Getter is the HTTP capability handed to every component that calls out.
// Transport failures come back marked failure.ErrNetwork; any status code,
// including 4xx/5xx, is a successful Get.
type Getter interface {
	Get(ctx context.Context, rawURL string) (Response, error)
}

// BreakerSettings configures the per-host circuit breaker. Failures == 0
// disables it.
type BreakerSettings struct {
	Failures    uint32
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

type Client struct {
	http    *http.Client
	breaker BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(timeout time.Duration, breaker BreakerSettings) *Client {
	hc := NewClient()
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return &Client{
		http:     hc,
		breaker:  breaker,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) Get(ctx context.Context, rawURL string) (Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Response{}, failure.Mark(redactErr(err), failure.ErrNetwork, "parse url")
	}

	cb := c.breakerFor(u.Host)
	if cb == nil {
		return c.do(ctx, rawURL)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		return c.do(ctx, rawURL)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Response{}, failure.Mark(err, failure.ErrNetwork, "circuit breaker "+u.Host)
		}
		return Response{}, err
	}
	return result.(Response), nil
}

func (c *Client) do(ctx context.Context, rawURL string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, failure.Mark(redactErr(err), failure.ErrNetwork, "create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, failure.Mark(redactErr(err), failure.ErrNetwork, "GET "+RedactURL(rawURL))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, failure.Mark(err, failure.ErrNetwork, "read body")
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}

func (c *Client) breakerFor(host string) *gobreaker.CircuitBreaker {
	if c.breaker.Failures == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	failures := c.breaker.Failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: c.breaker.MaxRequests,
		Interval:    c.breaker.Interval,
		Timeout:     c.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
	c.breakers[host] = cb
	return cb
}

// redactErr scrubs credentials from the URL a *url.Error carries in its
// message.
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = RedactURL(ue.URL)
	}
	return err
}

var secretParams = []string{"appid", "api_key", "apiKey", "key"}

// RedactURL blanks credential query parameters so URLs are safe to log.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
