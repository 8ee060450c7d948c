// Package remote is the HTTP client for the spreadsheet-backed web app that
// stores waste records off-device.
//
// The web app accepts two requests:
//
//	POST <url>  {"action":"append","spreadsheetId":..,"sheetName":..,"data":[...14 cells]}
//	GET  <url>?action=read&spreadsheetId=..&sheetName=..
//
// Every call is bounded by its own timeout. Failures are reported as
// *NetworkError (transport), *RemoteError (endpoint rejected the request),
// ErrOpaqueResponse (HTML instead of JSON) or ErrMalformedConfig (bad URL).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/zoobzio/clockz"
)

const (
	// DefaultWriteTimeout bounds a single append.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultPingTimeout bounds a health ping.
	DefaultPingTimeout = 5 * time.Second
	// DefaultPullTimeout bounds a full read of the sheet.
	DefaultPullTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20
	// maxErrorBody caps the body text kept on a RemoteError.
	maxErrorBody = 512
)

// Config configures the client.
type Config struct {
	URL           string
	SpreadsheetID string
	SheetName     string

	WriteTimeout time.Duration
	PingTimeout  time.Duration
	PullTimeout  time.Duration

	// HTTPClient defaults to a client with no overall timeout; each call
	// applies its own.
	HTTPClient *http.Client
	// Clock defaults to the real clock.
	Clock clockz.Clock
}

// DefaultConfig returns the default timeouts and sheet name.
func DefaultConfig() Config {
	return Config{
		SheetName:    "WasteData",
		WriteTimeout: DefaultWriteTimeout,
		PingTimeout:  DefaultPingTimeout,
		PullTimeout:  DefaultPullTimeout,
	}
}

// Client talks to the remote web app. The endpoint can be changed while
// requests are in flight; each request uses the settings it started with.
type Client struct {
	mu     sync.RWMutex
	cfg    Config
	http   *http.Client
	clock  clockz.Clock
	logger *slog.Logger
}

// New creates a client. Zero-valued timeouts fall back to the defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.SheetName == "" {
		cfg.SheetName = def.SheetName
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = def.PullTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		clock:  clock,
		logger: logger.With("component", "remote"),
	}
}

// Config returns the client's effective configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetEndpoint points the client at another web app or sheet. An empty sheet
// name selects the default.
func (c *Client) SetEndpoint(rawURL, spreadsheetID, sheetName string) {
	if sheetName == "" {
		sheetName = DefaultConfig().SheetName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.URL = rawURL
	c.cfg.SpreadsheetID = spreadsheetID
	c.cfg.SheetName = sheetName
}

// Validate reports ErrMalformedConfig when the endpoint URL is missing or
// unusable. It does no network I/O.
func (c *Client) Validate() error {
	_, err := endpoint(c.Config())
	return err
}

// endpoint validates the configured URL.
func endpoint(cfg Config) (*url.URL, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrMalformedConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must start with https://", ErrMalformedConfig)
	}
	return u, nil
}

type appendRequest struct {
	Action        string `json:"action"`
	SpreadsheetID string `json:"spreadsheetId"`
	SheetName     string `json:"sheetName,omitempty"`
	Data          []any  `json:"data"`
}

// Push appends one record to the sheet.
func (c *Client) Push(ctx context.Context, r *schema.WasteRecord) error {
	_, err := c.appendRow(ctx, "push", r.ToRow())
	if err == nil {
		c.logger.Debug("record appended", "id", r.ID)
	}
	return err
}

// TestWrite appends a marker row and returns the endpoint's parsed reply.
func (c *Client) TestWrite(ctx context.Context) (map[string]any, error) {
	now := c.clock.Now()
	row := []any{"test-write", now.Year(), int(now.Month()), 0}
	body, err := c.appendRow(ctx, "test-write", row)
	if err != nil {
		return nil, err
	}

	var reply map[string]any
	if err := json.Unmarshal(body, &reply); err != nil || reply == nil {
		return map[string]any{"success": true, "message": "OK (no JSON body)"}, nil
	}
	return reply, nil
}

func (c *Client) appendRow(ctx context.Context, op string, row []any) ([]byte, error) {
	cfg := c.Config()
	u, err := endpoint(cfg)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(appendRequest{
		Action:        "append",
		SpreadsheetID: cfg.SpreadsheetID,
		SheetName:     cfg.SheetName,
		Data:          row,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, header, body, err := c.do(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(status, header, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Pull reads every record from the sheet. Row 0 holds headers and is
// skipped; rows that cannot be parsed are dropped.
func (c *Client) Pull(ctx context.Context) ([]schema.WasteRecord, error) {
	cfg := c.Config()
	u, err := endpoint(cfg)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("action", "read")
	q.Set("spreadsheetId", cfg.SpreadsheetID)
	q.Set("sheetName", cfg.SheetName)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, cfg.PullTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	status, header, body, err := c.do(ctx, "pull", req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(status, header, body); err != nil {
		return nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, &RemoteError{Status: status, Body: truncate(string(body)), Message: err.Error()}
	}

	records := make([]schema.WasteRecord, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		if i == 0 {
			continue
		}
		r, err := schema.FromRow(row)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, *r)
	}
	if dropped > 0 {
		c.logger.Debug("dropped unparseable rows", "count", dropped)
	}

	return records, nil
}

// decodeRows accepts a bare 2D array or {"values": 2D array}.
func decodeRows(body []byte) ([][]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var rows [][]any
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("failed to parse rows: %w", err)
		}
		return rows, nil
	}

	var wrapped struct {
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse rows: %w", err)
	}
	return wrapped.Values, nil
}

// do sends req and reads the body. Transport failures become *NetworkError.
func (c *Client) do(ctx context.Context, op string, req *http.Request) (int, http.Header, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, networkError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, networkError(ctx, op, err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func networkError(ctx context.Context, op string, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return &NetworkError{Op: op, Err: err, Timeout: timeout}
}

// checkResponse maps a completed HTTP exchange to an error.
func checkResponse(status int, header http.Header, body []byte) error {
	if isHTML(header, body) {
		return ErrOpaqueResponse
	}

	if status < 200 || status > 299 {
		return &RemoteError{Status: status, Body: truncate(string(body))}
	}

	// A 2xx body that is not JSON is accepted as success.
	var result struct {
		Success *bool           `json:"success"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil
	}

	failed := result.Success != nil && !*result.Success
	errText := errorText(result.Error)
	if failed || errText != "" {
		msg := result.Message
		if msg == "" {
			msg = errText
		}
		if msg == "" {
			msg = "web app reported failure"
		}
		return &RemoteError{Status: status, Body: truncate(string(body)), Message: msg}
	}
	return nil
}

// errorText renders the "error" field, which the web app sends either as a
// string or as {"message": ...}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	if string(raw) == "false" || string(raw) == `""` {
		return ""
	}
	return string(raw)
}

func isHTML(header http.Header, body []byte) bool {
	if ct := header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "text/html" {
			return true
		}
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
