// Package httputil is the HTTP client handed to plugins.
package httputil

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	// RateLimitReset is the X-RateLimit-Reset header, zero when absent.
	RateLimitReset int64
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

type Client struct {
	r *resty.Client
}

// New returns a client identifying itself as userAgent.
func New(userAgent string, timeout time.Duration) *Client {
	r := resty.New().
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout)
	return &Client{r: r}
}

// Get fetches url and returns the body of a successful response.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.r.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		reset, _ := strconv.ParseInt(resp.Header().Get("X-RateLimit-Reset"), 10, 64)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode(), RateLimitReset: reset}
	}
	return resp.Body(), nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode JSON: %w", url, err)
	}
	return nil
}

// GetXML fetches url and decodes the XML body into out.
func (c *Client) GetXML(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode XML: %w", url, err)
	}
	return nil
}
