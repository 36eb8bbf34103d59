// Package buffer implements the HTTP pull protocol spoken by remote output
// buffers: fetch pages starting at a token, and abort a buffer that is no
// longer needed.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/page"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Protocol headers.
const (
	HeaderMaxSize        = "X-Exchange-Max-Size"
	HeaderPageToken      = "X-Exchange-Page-Token"
	HeaderNextToken      = "X-Exchange-Page-Next-Token"
	HeaderBufferComplete = "X-Exchange-Buffer-Complete"
)

// Prometheus metrics for remote buffer requests.
var (
	bufferRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_buffer_requests_total",
		Help: "Total remote buffer requests by method and status",
	}, []string{"method", "status"})

	bufferRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_buffer_request_duration_seconds",
		Help:    "Remote buffer request duration in seconds by method",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	bufferErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_buffer_errors_total",
		Help: "Total remote buffer errors by class",
	}, []string{"class"})
)

// Response is the result of one fetch against a remote buffer.
type Response struct {
	// Token is the token the pages start at.
	Token int64

	// NextToken is the token to request next; it acknowledges every page
	// before it.
	NextToken int64

	// Complete reports that the buffer has no pages beyond NextToken.
	Complete bool

	// Pages in producer order.
	Pages []*page.Page

	// Bytes is the total retained size of Pages.
	Bytes int64
}

// Config holds the transport configuration.
type Config struct {
	// HTTPClient is used for all requests. A client with Timeout is created
	// when nil.
	HTTPClient *http.Client

	// Timeout applies to the default HTTP client.
	Timeout time.Duration

	// UserAgent identifies the consuming task to the remote buffer.
	UserAgent string

	// RequestsPerSecond limits outbound requests; zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter bucket size.
	Burst int
}

// DefaultConfig returns a transport configuration suitable for most clusters.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "page-exchange/0.1",
		Burst:     1,
	}
}

// Client talks to remote output buffers over HTTP.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a remote buffer client.
func New(cfg Config) (*Client, error) {
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		config:     cfg,
		logger:     log.With().Str("component", "buffer-client").Logger(),
	}, nil
}

// Fetch requests pages from location starting at token. maxBytes is a hint:
// the remote buffer returns at least one page when any is available even if
// that page alone is larger.
func (c *Client) Fetch(ctx context.Context, location string, token int64, maxBytes int64) (*Response, error) {
	startTime := time.Now()
	defer func() {
		bufferRequestDuration.WithLabelValues(http.MethodGet).Observe(time.Since(startTime).Seconds())
	}()

	url := strings.TrimSuffix(location, "/") + "/" + strconv.FormatInt(token, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, c.fail(&Error{Location: location, Class: ErrorClassClient, Message: "create request", Err: err})
	}
	req.Header.Set(HeaderMaxSize, strconv.FormatInt(maxBytes, 10))
	req.Header.Set("Accept", page.ContentType)
	req.Header.Set("User-Agent", c.config.UserAgent)

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("location", location).
		Int64("token", token).
		Int64("max_bytes", maxBytes).
		Msg("Fetching pages")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		bufferRequestsTotal.WithLabelValues(http.MethodGet, "network_error").Inc()
		return nil, c.fail(&Error{Location: location, Class: ErrorClassNetwork, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()
	bufferRequestsTotal.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, c.fail(&Error{
			Location:   location,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		})
	}

	result, perr := parseHeaders(location, resp)
	if perr != nil {
		return nil, c.fail(perr)
	}
	if result.Token != token {
		return nil, c.fail(protocolError(location, resp.StatusCode,
			"response token %d does not match requested token %d", result.Token, token))
	}

	if resp.StatusCode == http.StatusNoContent {
		if result.NextToken != token {
			return nil, c.fail(protocolError(location, resp.StatusCode,
				"empty response advanced token from %d to %d", token, result.NextToken))
		}
		return result, nil
	}

	pages, err := page.ReadPages(resp.Body)
	if err != nil {
		return nil, c.fail(&Error{
			Location:   location,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassProtocol,
			Message:    "decode pages",
			Err:        fmt.Errorf("%w: %w", ErrProtocol, err),
		})
	}
	if int64(len(pages)) != result.NextToken-token {
		return nil, c.fail(protocolError(location, resp.StatusCode,
			"received %d pages for token range [%d, %d)", len(pages), token, result.NextToken))
	}

	result.Pages = pages
	for _, p := range pages {
		result.Bytes += p.SizeInBytes()
	}
	return result, nil
}

// Abort tells the remote buffer that no more pages will be requested so it
// can release them.
func (c *Client) Abort(ctx context.Context, location string) error {
	startTime := time.Now()
	defer func() {
		bufferRequestDuration.WithLabelValues(http.MethodDelete).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, location, nil)
	if err != nil {
		return c.fail(&Error{Location: location, Class: ErrorClassClient, Message: "create request", Err: err})
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		bufferRequestsTotal.WithLabelValues(http.MethodDelete, "network_error").Inc()
		return c.fail(&Error{Location: location, Class: ErrorClassNetwork, Message: "abort failed", Err: err})
	}
	defer resp.Body.Close()
	bufferRequestsTotal.WithLabelValues(http.MethodDelete, strconv.Itoa(resp.StatusCode)).Inc()

	// A buffer that is already gone is as good as aborted.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusGone {
		return c.fail(&Error{
			Location:   location,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		})
	}
	return nil
}

// wait blocks on the request limiter, if any.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("request limiter: %w", err)
	}
	return nil
}

func (c *Client) fail(err *Error) error {
	bufferErrorsTotal.WithLabelValues(string(err.Class)).Inc()
	if errors.Is(err.Err, context.Canceled) {
		return err
	}
	c.logger.Debug().
		Str("location", err.Location).
		Int("status", err.StatusCode).
		Str("error_class", string(err.Class)).
		Msg("Remote buffer request failed")
	return err
}

// parseHeaders reads the token and completion headers of a page response.
func parseHeaders(location string, resp *http.Response) (*Response, *Error) {
	token, err := strconv.ParseInt(resp.Header.Get(HeaderPageToken), 10, 64)
	if err != nil {
		return nil, protocolError(location, resp.StatusCode, "invalid %s header %q", HeaderPageToken, resp.Header.Get(HeaderPageToken))
	}

	next, err := strconv.ParseInt(resp.Header.Get(HeaderNextToken), 10, 64)
	if err != nil {
		return nil, protocolError(location, resp.StatusCode, "invalid %s header %q", HeaderNextToken, resp.Header.Get(HeaderNextToken))
	}
	if next < token {
		return nil, protocolError(location, resp.StatusCode, "next token %d is behind token %d", next, token)
	}

	complete := false
	if v := resp.Header.Get(HeaderBufferComplete); v != "" {
		complete, err = strconv.ParseBool(v)
		if err != nil {
			return nil, protocolError(location, resp.StatusCode, "invalid %s header %q", HeaderBufferComplete, v)
		}
	}

	return &Response{
		Token:     token,
		NextToken: next,
		Complete:  complete,
	}, nil
}
