// Package salto provides a client for the Salto web service API.
//
// The API is undocumented; request and response shapes were reverse
// engineered from the Salto web application. The actual handover of access
// data into Salto happens via the official staging table, this package only
// reads the user directory to map transponder ids to ExtIds.
package salto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Config configures a Salto client.
type Config struct {
	// BaseURL is the Salto web service base URL, including scheme and port.
	BaseURL string

	// Username is the account used for the directory enumeration.
	Username string

	// Password is the account password.
	Password string

	// InsecureSkipVerify disables TLS certificate verification. Salto
	// appliances commonly serve self-signed certificates.
	InsecureSkipVerify bool
}

// Client is an authenticated Salto API client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient logs in to Salto and returns an authenticated client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- explicit operator opt-in
		}
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{
			Jar:       jar,
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
	}

	token, err := c.login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	c.token = token

	return c, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// login performs the OAuth password grant and returns the access token.
// The endpoint expects the credentials both form-encoded in the body and
// repeated in the query string, the username base64-encoded and the password
// as a salted hash.
func (c *Client) login(ctx context.Context, username, password string) (string, error) {
	hash, err := passwordHash(password)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", "webapp")
	form.Set("scope", "offline_access global")
	form.Set("username", base64.StdEncoding.EncodeToString([]byte(username)))
	form.Set("password", hash)

	reqURL := c.baseURL + "/oauth/connect/token?" + form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &APIError{Op: "login", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Op: "login", Err: fmt.Errorf("HTTP %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", &APIError{Op: "login", Err: err}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", &APIError{Op: "login", Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if token.AccessToken == "" {
		return "", &APIError{Op: "login", Err: fmt.Errorf("token response contains no access token")}
	}

	return token.AccessToken, nil
}

// postJSON performs an authenticated POST request with a JSON body and decodes
// the JSON response into out.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &APIError{Op: path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: path, Err: fmt.Errorf("HTTP %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return &APIError{Op: path, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Op: path, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

// salt generates a non-repeating 32 byte salt, hex-encoded.
//
// The first 8 bytes are the current epoch seconds and the next 4 the
// sub-second milliseconds, both little-endian, to prevent salt reuse. The
// remaining 20 bytes are random. The Salto web application itself uses 32
// random bytes without any non-repetition guarantee.
func salt() (string, error) {
	var raw [32]byte
	now := time.Now()
	binary.LittleEndian.PutUint64(raw[0:8], uint64(now.Unix()))
	binary.LittleEndian.PutUint32(raw[8:12], uint32(now.Nanosecond()/int(time.Millisecond))) // #nosec G115 -- milliseconds fit in uint32
	if _, err := io.ReadFull(rand.Reader, raw[12:]); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// passwordHash calculates the Salto-style password hash
// <salt><SHA256(salt + password)>, where salt is hex-encoded and hashed as
// its hex string representation.
func passwordHash(password string) (string, error) {
	s, err := salt()
	if err != nil {
		return "", err
	}
	return hashWithSalt(s, password), nil
}

func hashWithSalt(s, password string) string {
	sum := sha256.Sum256([]byte(s + password))
	return s + hex.EncodeToString(sum[:])
}
