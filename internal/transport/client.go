// Package transport issues JSON requests against the remote collection service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hpungsan/gepdash/internal/errors"
)

// maxErrorExcerpt bounds how much of a non-2xx body is kept for logging.
const maxErrorExcerpt = 512

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL   string        // scheme + host, e.g. http://localhost:8000
	APIPrefix string        // prepended to every path, e.g. /api/v1
	Timeout   time.Duration // per request; 0 means no timeout
	RateLimit float64       // requests per second; 0 disables limiting
	RateBurst int
	UserAgent string
	HTTP      Doer
	Logger    *slog.Logger
}

// Client is a thin JSON adapter over HTTP.
type Client struct {
	base      *url.URL
	prefix    string
	timeout   time.Duration
	userAgent string
	http      Doer
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", opts.BaseURL)
	}

	c := &Client{
		base:      base,
		prefix:    "/" + strings.Trim(opts.APIPrefix, "/"),
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		http:      opts.HTTP,
		logger:    opts.Logger,
	}
	if c.prefix == "/" {
		c.prefix = ""
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.userAgent == "" {
		c.userAgent = "gepdash"
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// Get decodes the response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put sends body as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues DELETE path and ignores any response body.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Do performs one request. Non-2xx responses become *errors.AppError
// classified by status code; the body of a failed response is treated as
// opaque. A nil out, a 204, or an empty body skips decoding.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.NewTransport(method, path, err)
		}
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("remote request failed", "method", method, "path", path, "error", err)
		return errors.NewTransport(method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return errors.NewHTTPStatus(resp.StatusCode, method, path, strings.TrimSpace(string(excerpt)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewTransport(method, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewInternal(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	// path arrives escaped (ids go through url.PathEscape in the repository).
	u := *c.base
	raw := c.base.EscapedPath() + c.prefix + "/" + strings.TrimLeft(path, "/")
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid path %q", path))
	}
	u.Path = unescaped
	u.RawPath = raw
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("encode %s %s: %w", method, path, err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
