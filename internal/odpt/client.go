package odpt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"trains.tokyogtfs.org/internal/logging"
)

const DefaultBaseURL = "https://api.odpt.org/api/v4/"

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to download %s: received HTTP status %s", e.Endpoint, e.Status)
}

type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client

	// OnResponse, when set, is called once per request with the HTTP status
	// (0 on a transport error) and the time until response headers arrived.
	OnResponse func(endpoint string, statusCode int, elapsed time.Duration)
}

// Client fetches endpoint data dumps from the ODPT API. Requests are spaced by
// a token bucket limiter shared by every call.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	onResponse func(endpoint string, statusCode int, elapsed time.Duration)
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var transport *http.Transport
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			transport = t.Clone()
		} else {
			transport = &http.Transport{}
		}
		transport.TLSHandshakeTimeout = 10 * time.Second
		transport.ResponseHeaderTimeout = cfg.Timeout
		transport.IdleConnTimeout = 90 * time.Second

		// Dumps are large; the header timeout bounds a stalled server and
		// the body is read as a stream.
		httpClient = &http.Client{Transport: transport}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  slog.Default().With(slog.String("component", "odpt_client")),

		onResponse: cfg.OnResponse,
	}
}

func (c *Client) endpointURL(endpoint string) string {
	q := url.Values{}
	q.Set("acl:consumerKey", c.apiKey)
	return c.baseURL + "odpt:" + endpoint + ".json?" + q.Encode()
}

// Open requests the data dump of endpoint. The caller closes the body.
func (c *Client) Open(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	logging.LogOperation(c.logger, "requesting_data_dump", slog.String("endpoint", endpoint))

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.onResponse != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.onResponse(endpoint, status, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.SafeCloseWithLogging(resp.Body, c.logger, "odpt_error_body")
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}
