// SPDX-License-Identifier: MPL-2.0

// Package fetch retrieves catalog documents and module artifacts. Sources are
// HTTP(S) URLs, file:// URLs or plain filesystem paths.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultUserAgent is sent with every HTTP request unless overridden.
	DefaultUserAgent = "orbisgis/dev"

	// DefaultTimeout bounds a single request when the caller's context has no deadline.
	DefaultTimeout = 5 * time.Minute

	// defaultMaxBytes is the upper bound on a single download (512 MB).
	defaultMaxBytes = 512 << 20
)

// ErrTooLarge is returned when a response exceeds the configured size limit.
var ErrTooLarge = errors.New("response exceeds size limit")

type (
	// StatusError is returned when an HTTP server answers with a non-200 status.
	StatusError struct {
		URL  string
		Code int
	}

	// Client fetches sources over HTTP(S) or from the local filesystem.
	Client struct {
		httpClient *http.Client
		userAgent  string
		timeout    time.Duration
		maxBytes   int64
	}

	// Option configures a Client during construction.
	Option func(*Client)
)

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxies.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout applied when the context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithMaxBytes caps the size of a single download.
func WithMaxBytes(n int64) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxBytes = n
		}
	}
}

// NewClient creates a Client with defaults applied.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		userAgent:  DefaultUserAgent,
		timeout:    DefaultTimeout,
		maxBytes:   defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open returns a stream over the source. The caller must close it.
func (c *Client) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, including Windows drive letters.
		return openFile(ctx, source)
	}

	switch u.Scheme {
	case "file":
		return openFile(ctx, u.Path)
	case "http", "https":
		return c.openHTTP(ctx, source)
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, redactURL(source))
	}
}

// Download streams the source into dest. Data is first written to a
// temporary file next to dest and renamed into place, so dest never holds a
// partial artifact.
func (c *Client) Download(ctx context.Context, source, dest string) (err error) {
	body, err := c.Open(ctx, source)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }() // read-only stream

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	n, copyErr := io.Copy(tmp, io.LimitReader(body, c.maxBytes+1))
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		return fmt.Errorf("writing %s: %w", dest, copyErr)
	case n > c.maxBytes:
		return fmt.Errorf("%s: %w (%d bytes)", redactURL(source), ErrTooLarge, c.maxBytes)
	case closeErr != nil:
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}
	return nil
}

func (c *Client) openHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("GET %s: %w", redactURL(source), err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{URL: redactURL(source), Code: resp.StatusCode}
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func openFile(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// cancelOnClose releases the request timeout once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// redactURL strips query parameters and fragments from a URL for safe
// inclusion in error messages.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" && u.Fragment == "" {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "?")
}
