// Package churchtools provides a client for the ChurchTools REST API and
// resolves resource bookings into access grants.
package churchtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Client is an authenticated ChurchTools API client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a ChurchTools client authenticating with a static login
// token. The client keeps a cookie jar because ChurchTools issues a session
// cookie on the first authenticated request.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("login token is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Jar:     jar,
			Timeout: DefaultTimeout,
		},
	}, nil
}

// getJSON performs an authenticated GET request and decodes the JSON response
// into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Login "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{URL: reqURL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return NewHTTPError(resp.StatusCode, reqURL, resp.Status)
	}

	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return &TransportError{URL: reqURL, Err: err}
	}
	if int64(len(body)) > MaxResponseSize {
		return fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	if !utf8.Valid(body) {
		return fmt.Errorf("%s: %w", reqURL, ErrNotUTF8)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: reqURL, Err: err}
	}

	return nil
}
