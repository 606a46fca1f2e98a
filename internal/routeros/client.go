// Package routeros talks to a RouterOS v7 device over its REST API.
//
// The client reads the collections toggles are built from and performs the
// two kinds of writes toggles need: setting a single field on one object
// and invoking a command on one object.
package routeros

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grimm.is/toggled/internal/brand"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/toggle"
)

// DefaultTimeout bounds a single REST round trip.
const DefaultTimeout = 10 * time.Second

// ErrNotFound is returned when a reference does not resolve to exactly one
// object on the device.
var ErrNotFound = errors.New("object not found")

// APIError is an error response from the RouterOS REST API.
type APIError struct {
	Status  int    `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("routeros: %d %s: %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("routeros: %d %s", e.Status, e.Message)
}

// Client is a RouterOS REST client. It implements toggle.Writer and the
// coordinator's snapshot source.
type Client struct {
	baseURL             string
	username            string
	password            string
	httpClient          *http.Client
	insecure            bool
	expectedFingerprint string
	collections         []toggle.CollectionSpec
	logger              *logging.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithInsecureTLS accepts any server certificate. RouterOS ships with a
// self-signed certificate, so this is common on small installs.
func WithInsecureTLS(insecure bool) Option {
	return func(c *Client) {
		c.insecure = insecure
	}
}

// WithFingerprint pins the server certificate (SHA-256 hex of the leaf).
func WithFingerprint(fp string) Option {
	return func(c *Client) {
		c.expectedFingerprint = strings.ToLower(strings.ReplaceAll(fp, ":", ""))
	}
}

// WithHTTPClient replaces the underlying HTTP client. TLS options are not
// applied to a caller-supplied client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCollections sets the collections Fetch reads.
func WithCollections(specs []toggle.CollectionSpec) Option {
	return func(c *Client) {
		c.collections = specs
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the device at address, which may be a bare host
// ("192.168.88.1") or a URL ("https://router.lan:8443").
func New(address, username, password string, opts ...Option) *Client {
	defaultClient := &http.Client{Timeout: DefaultTimeout}
	c := &Client{
		baseURL:    restBase(address),
		username:   username,
		password:   password,
		httpClient: defaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger, "routeros")

	if c.httpClient == defaultClient && (c.insecure || c.expectedFingerprint != "") {
		c.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify:    true, // verified below when a fingerprint is pinned
				VerifyPeerCertificate: c.verifyFingerprint,
			},
		}
	}
	return c
}

func restBase(address string) string {
	address = strings.TrimRight(address, "/")
	if !strings.Contains(address, "://") {
		address = "https://" + address
	}
	return address + "/rest"
}

func (c *Client) verifyFingerprint(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if c.expectedFingerprint == "" || len(rawCerts) == 0 {
		return nil
	}
	hash := sha256.Sum256(rawCerts[0])
	if got := hex.EncodeToString(hash[:]); got != c.expectedFingerprint {
		return fmt.Errorf("certificate fingerprint mismatch: expected %s, got %s", c.expectedFingerprint, got)
	}
	return nil
}

// do performs a REST request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("rest call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if len(respBody) > 0 {
			_ = json.Unmarshal(respBody, apiErr)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// Identity returns the device's system identity. It is the cheapest call
// that proves address and credentials are good.
func (c *Client) Identity(ctx context.Context) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/system/identity", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}
