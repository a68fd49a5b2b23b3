package esri

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/log"
)

// DefaultTimeout is used by DefaultClient.
const DefaultTimeout = 30 * time.Second

// Client performs ArcGIS REST requests.
type Client struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewClient creates a new ArcGIS client with the specified timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Timeout: timeout,
	}
}

// DefaultClient is shared by services and tasks built without an explicit client.
var DefaultClient = NewClient(DefaultTimeout)

func (c *Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.L()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Get issues a GET request and decodes the JSON body into target.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, target any) error {
	return c.Request(ctx, http.MethodGet, endpoint, params, target)
}

// Post issues a form-encoded POST request and decodes the JSON body into target.
func (c *Client) Post(ctx context.Context, endpoint string, params url.Values, target any) error {
	return c.Request(ctx, http.MethodPost, endpoint, params, target)
}

// Request performs the call and decodes the response. A JSON error member in
// the body is returned as *APIError. target may be nil.
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values, target any) error {
	body, _, err := c.Fetch(ctx, method, endpoint, params)
	if err != nil {
		return err
	}

	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to parse JSON from %s: %w", endpoint, err)
	}
	return nil
}

// Fetch performs the call and returns the raw body and content type.
func (c *Client) Fetch(ctx context.Context, method, endpoint string, params url.Values) ([]byte, string, error) {
	req, err := newRequest(ctx, method, endpoint, params)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}

	c.logger().Debug("arcgis request", zap.String("method", method), zap.String("url", req.URL.String()))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Probe reports whether endpoint answers a GET with a 2xx status.
func (c *Client) Probe(ctx context.Context, endpoint string, params url.Values) bool {
	_, _, err := c.Fetch(ctx, http.MethodGet, endpoint, params)
	if err != nil {
		c.logger().Debug("arcgis probe failed", zap.String("url", endpoint), zap.Error(err))
		return false
	}
	return true
}

func newRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	if method == http.MethodPost {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u.String(), nil)
}
