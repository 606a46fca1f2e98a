// Package client provides an API client for a running toggled daemon.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/toggled/internal/toggle"
)

// Status mirrors the API status response.
// Defined locally to avoid importing the heavy internal/api package.
type Status struct {
	Seq         uint64         `json:"seq"`
	Taken       time.Time      `json:"taken"`
	AgeSeconds  float64        `json:"age_seconds"`
	Writable    bool           `json:"writable"`
	Collections map[string]int `json:"collections"`
	Toggles     int            `json:"toggles"`
	LastError   string         `json:"last_error,omitempty"`
}

// ToggleResponse mirrors the API response to a toggle request.
type ToggleResponse struct {
	Result toggle.Result `json:"result"`
	State  toggle.State  `json:"state"`
	Error  string        `json:"error,omitempty"`
}

// AuditEntry mirrors one row of the audit trail.
type AuditEntry struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id,omitempty"`
	Entity    string        `json:"entity"`
	Type      string        `json:"type"`
	Requested bool          `json:"requested"`
	Outcome   string        `json:"outcome"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Actor     string        `json:"actor,omitempty"`
}

// AuditQuery narrows an audit listing.
type AuditQuery struct {
	Entity  string
	Outcome string
	Since   time.Time
	Limit   int
}

// Event is one message from the event stream.
type Event struct {
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Code, e.Message)
}

// APIClient defines the operations the CLI needs from a daemon.
type APIClient interface {
	Status(ctx context.Context) (*Status, error)
	ListToggles(ctx context.Context, typ string) ([]toggle.State, error)
	GetToggle(ctx context.Context, entity string) (*toggle.State, error)
	SetToggle(ctx context.Context, entity string, on bool) (*ToggleResponse, error)
}

// HTTPClient is an HTTP-based implementation of APIClient.
type HTTPClient struct {
	baseURL             string
	apiKey              string
	httpClient          *http.Client
	expectedFingerprint string
	SeenFingerprint     string
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithFingerprint pins the server certificate to a SHA-256 hex fingerprint.
func WithFingerprint(fp string) ClientOption {
	return func(c *HTTPClient) {
		c.expectedFingerprint = strings.ToLower(strings.ReplaceAll(fp, ":", ""))
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// NewHTTPClient creates a client for the daemon at baseURL. A bare
// host:port is treated as http.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			// Verified manually in VerifyPeerCertificate.
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return nil
				}
				hash := sha256.Sum256(rawCerts[0])
				fingerprint := hex.EncodeToString(hash[:])
				c.SeenFingerprint = fingerprint
				if c.expectedFingerprint != "" && c.expectedFingerprint != fingerprint {
					return fmt.Errorf("certificate fingerprint mismatch! Expected %s, got %s", c.expectedFingerprint, fingerprint)
				}
				return nil
			},
		},
	}
	return c
}

// doRequest performs a request and decodes the JSON response into result.
// Status codes listed in accept are decoded like 2xx responses.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, result interface{}, accept ...int) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
		}
	}
	if !ok {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func statusError(code int, body []byte) *StatusError {
	var e struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
		if e.Details != "" {
			msg += ": " + e.Details
		}
	}
	return &StatusError{Code: code, Message: msg}
}

// Status retrieves the snapshot summary.
func (c *HTTPClient) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.doRequest(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListToggles lists toggles, optionally restricted to one entity type.
func (c *HTTPClient) ListToggles(ctx context.Context, typ string) ([]toggle.State, error) {
	path := "/api/toggles"
	if typ != "" {
		path += "?type=" + url.QueryEscape(typ)
	}
	var states []toggle.State
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetToggle retrieves one toggle.
func (c *HTTPClient) GetToggle(ctx context.Context, entity string) (*toggle.State, error) {
	var st toggle.State
	if err := c.doRequest(ctx, http.MethodGet, "/api/toggles/"+entityPath(entity), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetToggle requests a state change. Outcomes other than applied are
// reported in the response, not as an error.
func (c *HTTPClient) SetToggle(ctx context.Context, entity string, on bool) (*ToggleResponse, error) {
	state := "off"
	if on {
		state = "on"
	}
	var resp ToggleResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/toggles/"+entityPath(entity),
		map[string]string{"state": state}, &resp,
		http.StatusConflict, http.StatusForbidden, http.StatusBadGateway)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Audit lists recorded toggle attempts, newest first.
func (c *HTTPClient) Audit(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	v := url.Values{}
	if q.Entity != "" {
		v.Set("entity", q.Entity)
	}
	if q.Outcome != "" {
		v.Set("outcome", q.Outcome)
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/audit"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var entries []AuditEntry
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// WatchEvents connects to the event stream and calls onEvent for each
// message. It blocks until ctx is cancelled or the connection drops.
func (c *HTTPClient) WatchEvents(ctx context.Context, types []string, onEvent func(Event)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/ws/events"
	if len(types) > 0 {
		wsURL += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("X-API-Key", c.apiKey)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	// Reuse the pinned TLS config.
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		dialer.TLSClientConfig = transport.TLSClientConfig
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read error: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		onEvent(ev)
	}
}

// entityPath escapes each segment of "type/name" while keeping the slash.
func entityPath(entity string) string {
	parts := strings.Split(entity, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
