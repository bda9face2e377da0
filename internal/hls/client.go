package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultUserAgent = "hls-stream-ops/1.0"

// SegmentResult is one timed segment download. TTFB is measured to response
// headers being available; DownloadTime is the additional time to read the
// full body.
type SegmentResult struct {
	Bytes        []byte
	SizeBytes    int64
	TTFB         time.Duration
	DownloadTime time.Duration
}

// Client fetches manifests and segments with bounded timeouts. Non-200
// status, timeout, and transport faults all come back as errors; nothing
// panics past this boundary.
type Client struct {
	httpClient      *http.Client
	manifestTimeout time.Duration
	segmentTimeout  time.Duration
	userAgent       string
}

// ClientConfig holds fetch timeouts.
type ClientConfig struct {
	ManifestTimeout time.Duration // default 10s
	SegmentTimeout  time.Duration // default 30s
	UserAgent       string
}

// NewClient creates a Client. Zero-value timeouts get defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = 10 * time.Second
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		// Per-request deadlines come from context; the shared client has
		// no global timeout so segment and manifest limits can differ.
		httpClient:      &http.Client{},
		manifestTimeout: cfg.ManifestTimeout,
		segmentTimeout:  cfg.SegmentTimeout,
		userAgent:       cfg.UserAgent,
	}
}

// FetchManifest fetches playlist text from url within the manifest timeout.
func (c *Client) FetchManifest(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.manifestTimeout)
	defer cancel()

	resp, err := c.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("manifest fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("manifest fetch: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("manifest read: %w", err)
	}
	return string(body), nil
}

// FetchSegment downloads one segment within the segment timeout, timing
// TTFB and body transfer separately.
func (c *Client) FetchSegment(ctx context.Context, url string) (*SegmentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.segmentTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("segment fetch: %w", err)
	}
	defer resp.Body.Close()

	// Headers and status are available here: this is first-byte time.
	ttfb := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment fetch: HTTP %d", resp.StatusCode)
	}

	downloadStart := time.Now()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("segment read: %w", err)
	}

	return &SegmentResult{
		Bytes:        body,
		SizeBytes:    int64(len(body)),
		TTFB:         ttfb,
		DownloadTime: time.Since(downloadStart),
	}, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}
