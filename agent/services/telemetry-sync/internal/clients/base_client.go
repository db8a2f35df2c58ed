package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxResponseBytes = 1 << 20

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// BaseClient issues requests against the field service and tags them with the
// device id and a per-request id.
type BaseClient struct {
	baseURL   string
	client    HTTPDoer
	deviceID  string
	userAgent string
	requestID func() string
}

// Option customizes a BaseClient.
type Option func(*BaseClient)

// WithDeviceID sets the X-Device-ID header value.
func WithDeviceID(id string) Option {
	return func(c *BaseClient) { c.deviceID = id }
}

// WithUserAgent sets the User-Agent header value.
func WithUserAgent(ua string) Option {
	return func(c *BaseClient) { c.userAgent = ua }
}

// NewBaseClient builds client with base URL.
func NewBaseClient(baseURL string, client HTTPDoer, opts ...Option) *BaseClient {
	c := &BaseClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		userAgent: "fieldagent-telemetry-sync",
		requestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BaseClient) buildURL(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// PostForm sends form as application/x-www-form-urlencoded.
func (c *BaseClient) PostForm(ctx context.Context, path string, query, form url.Values) (int, []byte, error) {
	return c.Do(ctx, http.MethodPost, c.buildURL(path, query), strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
}

// Get issues a GET with query parameters.
func (c *BaseClient) Get(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	return c.Do(ctx, http.MethodGet, c.buildURL(path, query), nil, nil)
}

// Do executes HTTP request and returns status/body. Errors are transport errors only;
// the status code is left to the caller.
func (c *BaseClient) Do(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", c.requestID())
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
