// Package cin7 is a rate-limited client for the Cin7 Core (Dear Systems)
// external API. Every operation reports its outcome as a Response rather
// than a Go error, and every HTTP attempt is reported to an Observer.
package cin7

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://inventory.dearsystems.com/ExternalApi/v2/"

// Defaults applied by New.
const (
	DefaultMinInterval    = 340 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultPageTimeout    = 60 * time.Second
	DefaultMaxPages       = 100
	DefaultMaxRetries     = 2
	DefaultRetryBackoff   = time.Second
)

// maxRetryWait caps a server-sent Retry-After.
const maxRetryWait = 30 * time.Second

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 32 << 20

// Header names used for authentication.
const (
	headerAccountID = "api-auth-accountid"
	headerAppKey    = "api-auth-applicationkey"
)

// Client calls the API on behalf of one account. A Client is safe for
// concurrent use, but all calls share one rate limiter.
type Client struct {
	creds    Credentials
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	observer Observer
	logger   *slog.Logger

	requestTimeout time.Duration
	pingTimeout    time.Duration
	pageTimeout    time.Duration
	maxPages       int
	maxRetries     int
	retryBackoff   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL overrides the API root, taking precedence over the
// credentials' BaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithMinInterval sets the minimum spacing between any two calls. Zero
// disables spacing.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithObserver installs the call observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTimeouts sets the per-call, connectivity-check and catalog page
// timeouts. Non-positive values keep the default.
func WithTimeouts(request, ping, page time.Duration) Option {
	return func(c *Client) {
		if request > 0 {
			c.requestTimeout = request
		}
		if ping > 0 {
			c.pingTimeout = ping
		}
		if page > 0 {
			c.pageTimeout = page
		}
	}
}

// WithMaxPages caps how many pages a catalog fetch requests.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithRetries sets how many times a retryable response is retried and the
// base backoff, doubled on each attempt. n of zero disables retries.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithLogger sets the logger used for client diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for creds.
func New(creds Credentials, opts ...Option) *Client {
	base := creds.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		creds:          creds,
		baseURL:        strings.TrimRight(base, "/"),
		http:           &http.Client{},
		limiter:        rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
		pingTimeout:    DefaultPingTimeout,
		pageTimeout:    DefaultPageTimeout,
		maxPages:       DefaultMaxPages,
		maxRetries:     DefaultMaxRetries,
		retryBackoff:   DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs a rate-limited call, retrying 429s and, for GETs, server
// errors. Every attempt is reported to the observer exactly once, including
// attempts that fail before reaching the network.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, timeout time.Duration) Response {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	rec := CallRecord{
		Endpoint: endpoint,
		Method:   method,
		URL:      reqURL,
		Headers:  sanitizeHeaders(c.headers()),
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			rec.Error = fmt.Sprintf("encode request: %v", err)
			c.notify(ctx, rec)
			return Response{Message: rec.Error}
		}
		payload = b
		rec.RequestBody = b
	}

	for attempt := 0; ; attempt++ {
		out, retryAfter := c.send(ctx, rec, payload, timeout)
		if attempt >= c.maxRetries || !retryable(method, out.Status) {
			return out
		}

		wait := c.retryBackoff << attempt
		if retryAfter > 0 {
			wait = min(retryAfter, maxRetryWait)
		}
		c.logger.Warn("cin7 call will be retried",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.Int("status", out.Status),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
		)
		if !sleep(ctx, wait) {
			return out
		}
	}
}

// send makes one attempt. It returns the server's Retry-After, if any.
func (c *Client) send(ctx context.Context, rec CallRecord, payload []byte, timeout time.Duration) (Response, time.Duration) {
	fail := func(status int, msg string) Response {
		rec.Status = status
		rec.Error = msg
		c.notify(ctx, rec)
		return Response{Status: status, Message: msg}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(0, truncate(err.Error(), 200)), 0
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, rec.Method, rec.URL, reader)
	if err != nil {
		return fail(0, truncate(err.Error(), 200)), 0
	}
	req.Header = c.headers()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		rec.DurationMS = time.Since(start).Milliseconds()
		return fail(0, transportMessage(err)), 0
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	rec.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		return fail(resp.StatusCode, transportMessage(err)), 0
	}

	out := interpret(resp.StatusCode, raw)
	rec.Status = resp.StatusCode
	rec.ResponseBody = loggableBody(raw)
	if !out.OK {
		rec.Error = out.Message
	}
	c.notify(ctx, rec)

	c.logger.Debug("cin7 call",
		slog.String("method", rec.Method),
		slog.String("endpoint", rec.Endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", rec.DurationMS),
	)
	return out, retryAfter(resp.Header.Get("Retry-After"))
}

func (c *Client) headers() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set(headerAccountID, c.creds.AccountID)
	h.Set(headerAppKey, c.creds.ApplicationKey)
	return h
}

// retryable reports whether a response may be retried. A 429 was never
// processed; other server errors are retried only for reads, since a POST
// may already have created the record.
func retryable(method string, status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return method == http.MethodGet
	default:
		return false
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func transportMessage(err error) string {
	if isTimeout(err) {
		return "Request timeout"
	}
	return truncate(err.Error(), 200)
}

// interpret maps an HTTP status and body onto a Response.
func interpret(status int, raw []byte) Response {
	body := bytes.TrimSpace(raw)
	isJSON := len(body) > 0 && json.Valid(body)
	out := Response{Status: status}
	if isJSON {
		out.Body = json.RawMessage(body)
	}

	switch status {
	case http.StatusOK:
		out.OK = true
		out.Message = "Success"
	case http.StatusTooManyRequests:
		out.Message = "Rate limit exceeded. Please wait and try again."
		out.Body = nil
	case http.StatusUnauthorized:
		out.Message = "Authentication failed. Check your credentials."
		out.Body = nil
	case http.StatusBadRequest:
		out.Message = "Bad request: " + errorDetail(body, isJSON, 200)
	case http.StatusUnprocessableEntity:
		out.Message = "Validation error: " + errorDetail(body, isJSON, 200)
	case http.StatusInternalServerError:
		out.Message = "Server error. Please try again later."
		out.Body = nil
	default:
		detail := errorDetail(body, isJSON, 500)
		if detail == "Unknown error" {
			detail = http.StatusText(status)
		}
		out.Message = fmt.Sprintf("HTTP %d: %s", status, detail)
	}
	return out
}

func errorDetail(body []byte, isJSON bool, limit int) string {
	switch {
	case len(body) == 0:
		return "Unknown error"
	case isJSON:
		return extractErrorMessage(body)
	default:
		return truncate(string(body), limit)
	}
}

// extractErrorMessage reads the API's error envelope: a list whose first
// element carries ErrorCode/Exception/Message, or a single object.
func extractErrorMessage(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return string(body)
		}
		obj, ok := t[0].(map[string]any)
		if !ok {
			return compact(t[0])
		}
		if exc := stringOf(obj["Exception"]); exc != "" {
			if code := stringOf(obj["ErrorCode"]); code != "" {
				return code + ": " + exc
			}
			return exc
		}
		if msg := stringOf(obj["Message"]); msg != "" {
			return msg
		}
		return compact(obj)
	case map[string]any:
		if msg, ok := t["Message"]; ok {
			return stringOf(msg)
		}
		if exc, ok := t["Exception"]; ok {
			return stringOf(exc)
		}
		return compact(t)
	default:
		return compact(t)
	}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// loggableBody keeps JSON bodies as-is and wraps anything else as a
// truncated JSON string.
func loggableBody(raw []byte) json.RawMessage {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(truncate(string(body), 1000))
	return b
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
