package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/fileutil"
)

const (
	userAgent    = "sf-pools/1.0 (+https://github.com/fwextensions/sf-pools)"
	maxBodyBytes = 25 * 1024 * 1024
)

var (
	// ErrNotModified is returned by Get when a conditional request hits a 304
	ErrNotModified = errors.New("not modified")
	// ErrTooLarge is returned for a body over the client's size limit
	ErrTooLarge = errors.New("response too large")
)

// Client is an HTTP client that spaces out requests to the same host
type Client struct {
	http    *http.Client
	delay   time.Duration
	maxBody int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client with the given per-host delay and request timeout
func NewClient(delay, timeout time.Duration) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		delay:    delay,
		maxBody:  maxBodyBytes,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.delay > 0 {
			limit = rate.Every(c.delay)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[host] = l
	}
	return l
}

// Response is a successful GET
type Response struct {
	Body         []byte
	ETag         string
	LastModified string
	URL          string
}

// Get fetches rawURL. Extra headers are sent as-is; a 304 yields ErrNotModified.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	// Validate URL
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, c.maxBody)
	}

	return &Response{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		URL:          resp.Request.URL.String(),
	}, nil
}

// Hash returns the hex SHA-256 digest of data
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Result describes the outcome of downloading one facility document
type Result struct {
	Entry     domain.ManifestEntry
	Path      string
	Unchanged bool
}

// Downloader saves facility documents under dir, skipping unchanged content
type Downloader struct {
	client *Client
	dir    string
	now    func() time.Time
}

// NewDownloader creates a Downloader writing into dir
func NewDownloader(client *Client, dir string) *Downloader {
	return &Downloader{client: client, dir: dir, now: time.Now}
}

// Download fetches documentURL for facility id.
// With a previous manifest entry for the same URL it sends a conditional
// request, and a 304 or an identical content hash counts as unchanged.
func (d *Downloader) Download(ctx context.Context, id, documentURL string, prev *domain.ManifestEntry) (*Result, error) {
	filename := id + ".pdf"
	path := filepath.Join(d.dir, filename)

	headers := map[string]string{}
	sameSource := prev != nil && prev.DocumentURL == documentURL && fileExists(path)
	if sameSource {
		headers["If-None-Match"] = prev.ETag
		headers["If-Modified-Since"] = prev.LastModified
	}

	resp, err := d.client.Get(ctx, documentURL, headers)
	if errors.Is(err, ErrNotModified) && sameSource {
		return &Result{Entry: *prev, Path: path, Unchanged: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	entry := domain.ManifestEntry{
		DocumentURL:    documentURL,
		ContentHash:    Hash(resp.Body),
		Filename:       filename,
		LastDownloaded: d.now().UTC(),
		ETag:           resp.ETag,
		LastModified:   resp.LastModified,
	}

	if sameSource && prev.ContentHash == entry.ContentHash {
		// keep the original download time; only the validators may have moved
		entry.LastDownloaded = prev.LastDownloaded
		return &Result{Entry: entry, Path: path, Unchanged: true}, nil
	}

	if err := fileutil.WriteAtomic(path, resp.Body); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	return &Result{Entry: entry, Path: path}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// IsURL checks if a string looks like a URL
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.")
}
