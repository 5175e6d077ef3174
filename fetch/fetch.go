// Package fetch retrieves tile payloads over HTTP or from the local file
// system, with request rate limiting, transparent gzip decoding and an
// optional on-disk cache.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/OpticalFlyer/tilestream/log"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

// ErrNetwork is returned when a payload cannot be retrieved: transport
// failures, non-OK HTTP status and missing files.
var ErrNetwork = errors.New("network error")

// Fetcher retrieves the bytes at a URL or file path.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Options tunes a Client.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond limits outgoing HTTP requests; 0 disables limiting.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// DefaultOptions allows 64 requests per second with a 30 s timeout.
func DefaultOptions() Options {
	return Options{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 64,
		Burst:             16,
		UserAgent:         "tilestream/1.0",
	}
}

// Client fetches http(s) URLs with a shared, rate-limited HTTP client and
// everything else from the file system.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	agent   string
	lg      *log.Logger
}

// NewClient returns a rate-limited client for http(s) URLs and local paths.
func NewClient(opts Options, lg *log.Logger) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		agent: opts.UserAgent,
		lg:    lg,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	if isHTTP(u) {
		return c.getHTTP(ctx, u)
	}
	return getFile(u)
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func (c *Client) getHTTP(ctx context.Context, u string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, u, err)
	}
	// Asking explicitly turns off the transport's own decompression, so
	// gzip is handled below along with pre-compressed payloads.
	req.Header.Set("Accept-Encoding", "gzip")
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s: %s", ErrNetwork, u, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading body: %v", ErrNetwork, u, err)
	}
	c.lg.Debug("fetched", "url", u, "bytes", len(b), "elapsed", time.Since(start))

	return gunzip(b)
}

func getFile(p string) ([]byte, error) {
	if strings.HasPrefix(p, "file://") {
		if fu, err := url.Parse(p); err == nil {
			p = fu.Path
		}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return gunzip(b)
}

// gunzip decompresses b if it starts with the gzip magic. Tilesets are
// frequently served as gzipped files without a Content-Encoding header.
func gunzip(b []byte) ([]byte, error) {
	if len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		return b, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
