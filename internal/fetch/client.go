package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/metrics"
)

// ErrRobotsDisallowed marks a fetch denied by robots.txt policy.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// RobotsPolicy gates fetches and paces page requests per domain.
type RobotsPolicy interface {
	CanFetch(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
	// Content returns the cached robots.txt text for diagnostics.
	Content(rawURL string, maxChars int) string
}

// Options selects the fetch mode for one request.
type Options struct {
	// Render requests the browser renderer, falling back to a plain GET on
	// any render failure.
	Render bool
	// SkipRobots bypasses the robots.txt gate for this request. Used by
	// sources whose operators have granted explicit permission.
	SkipRobots bool

	RenderOptions
}

// Client fetches pages with robots gating, browser fallback, and optional
// raw-page archiving.
type Client struct {
	http      *HTTPFetcher
	renderer  Renderer
	robots    RobotsPolicy
	snapshots jobs.BlobStore
	clock     jobs.Clock
	logger    *zap.Logger
}

// NewClient assembles a fetch client. renderer and snapshots may be nil.
func NewClient(httpFetcher *HTTPFetcher, renderer Renderer, robots RobotsPolicy, snapshots jobs.BlobStore, clock jobs.Clock, logger *zap.Logger) *Client {
	metrics.Init()
	if renderer == nil {
		renderer = NoopRenderer{}
	}
	return &Client{
		http:      httpFetcher,
		renderer:  renderer,
		robots:    robots,
		snapshots: snapshots,
		clock:     clock,
		logger:    logger,
	}
}

// Fetch retrieves one page. The robots gate always runs first; when
// rendering is requested and available it is attempted before the plain GET.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Document, error) {
	if err := c.gate(ctx, rawURL, opts); err != nil {
		return nil, err
	}

	if opts.Render && c.renderer.Available() {
		start := c.now()
		html, err := c.renderer.Render(ctx, rawURL, opts.RenderOptions)
		if err == nil {
			metrics.ObserveFetch(rawURL, "browser", "ok", time.Since(start))
			doc, parseErr := NewDocument(rawURL, html, true)
			if parseErr == nil {
				c.archive(ctx, rawURL, html)
				return doc, nil
			}
			err = parseErr
		}
		metrics.ObserveFetch(rawURL, "browser", "error", time.Since(start))
		metrics.ObserveRenderFallback()
		c.logger.Warn("Browser render failed, falling back to plain GET",
			zap.String("url", rawURL), zap.Error(err))
	}

	start := c.now()
	body, err := c.http.Get(ctx, rawURL)
	if err != nil {
		metrics.ObserveFetch(rawURL, "plain", "error", time.Since(start))
		return nil, err
	}
	metrics.ObserveFetch(rawURL, "plain", "ok", time.Since(start))
	doc, err := NewDocument(rawURL, string(body), false)
	if err != nil {
		return nil, err
	}
	c.archive(ctx, rawURL, doc.HTML)
	return doc, nil
}

// FetchPages retrieves a sequence of rendered pages whose pagination is pure
// in-page interaction. It requires a browser renderer; there is no HTTP
// fallback because the later pages do not exist at distinct URLs.
func (c *Client) FetchPages(ctx context.Context, rawURL, nextPageSelector string, opts Options, maxPages int) ([]*Document, error) {
	if err := c.gate(ctx, rawURL, opts); err != nil {
		return nil, err
	}
	if !c.renderer.Available() {
		return nil, fmt.Errorf("fetch pages %s: %w", rawURL, ErrRendererUnavailable)
	}

	start := c.now()
	htmls, err := c.renderer.RenderPages(ctx, rawURL, nextPageSelector, opts.RenderOptions, maxPages)
	if err != nil {
		metrics.ObserveFetch(rawURL, "browser", "error", time.Since(start))
		return nil, fmt.Errorf("render pages %s: %w", rawURL, err)
	}
	metrics.ObserveFetch(rawURL, "browser", "ok", time.Since(start))

	docs := make([]*Document, 0, len(htmls))
	for i, html := range htmls {
		doc, parseErr := NewDocument(rawURL, html, true)
		if parseErr != nil {
			return docs, fmt.Errorf("parse rendered page %d: %w", i+1, parseErr)
		}
		docs = append(docs, doc)
	}
	if len(docs) > 0 {
		c.archive(ctx, rawURL, docs[0].HTML)
	}
	return docs, nil
}

// Pause sleeps for the domain's crawl delay. Callers invoke it between
// successive page fetches, never before the first.
func (c *Client) Pause(ctx context.Context, rawURL string) error {
	delay := c.robots.CrawlDelay(ctx, rawURL)
	if delay <= 0 {
		return nil
	}
	metrics.ObserveCrawlDelay(rawURL, delay)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RobotsContent surfaces the cached robots.txt text for run-log diagnostics.
func (c *Client) RobotsContent(rawURL string) string {
	return c.robots.Content(rawURL, 2000)
}

func (c *Client) gate(ctx context.Context, rawURL string, opts Options) error {
	if opts.SkipRobots {
		return nil
	}
	if c.robots.CanFetch(ctx, rawURL) {
		return nil
	}
	metrics.ObserveRobotsDenied(rawURL)
	c.logger.Warn("Fetch denied by robots.txt", zap.String("url", rawURL))
	return fmt.Errorf("%w: %s", ErrRobotsDisallowed, rawURL)
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now()
}

// archive stores the raw page best-effort; failures never fail the fetch.
func (c *Client) archive(ctx context.Context, rawURL, html string) {
	if c.snapshots == nil || html == "" {
		return
	}
	path := snapshotPath(rawURL, c.now())
	if _, err := c.snapshots.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(html)); err != nil {
		c.logger.Warn("Snapshot write failed", zap.String("url", rawURL), zap.Error(err))
	}
}

func snapshotPath(rawURL string, at time.Time) string {
	host := "unknown"
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		host = strings.ToLower(parsed.Host)
	}
	return fmt.Sprintf("%s/%s-%s.html", host, at.UTC().Format("20060102T150405"), jobs.ExternalID(rawURL)[:12])
}
