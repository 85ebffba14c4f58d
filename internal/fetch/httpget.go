package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// HTTPFetcher executes single HTTP GETs using the Colly collector.
type HTTPFetcher struct {
	userAgent     string
	timeout       time.Duration
	baseCollector *colly.Collector
}

// NewHTTPFetcher builds an HTTPFetcher.
func NewHTTPFetcher(userAgent string, timeout time.Duration) *HTTPFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Robots policy is resolved upstream with specificity matching; Colly's
	// built-in parser must not gate requests a second time.
	c.IgnoreRobotsTxt = true

	return &HTTPFetcher{
		userAgent:     userAgent,
		timeout:       timeout,
		baseCollector: c,
	}
}

// Get fetches the URL and returns the response body. Non-2xx statuses and
// transport failures are returned as errors.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}
	timeout := f.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		// Browser-like headers avoid naive WAF blocks.
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
