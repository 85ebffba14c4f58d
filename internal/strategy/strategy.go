// Package strategy implements the per-source extraction strategies that turn
// fetched content into normalized job records.
package strategy

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/fetch"
	"github.com/farreach/jobingest/internal/jobs"
)

// Strategy extracts jobs for one configured source. Errors are returned as
// human-readable strings; a strategy never aborts the run for other sources.
type Strategy interface {
	Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string)
}

// PageFetcher is the slice of the fetch client strategies depend on.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Document, error)
	FetchPages(ctx context.Context, rawURL, nextPageSelector string, opts fetch.Options, maxPages int) ([]*fetch.Document, error)
	Pause(ctx context.Context, rawURL string) error
}

// Deps carries the shared collaborators handed to every strategy.
type Deps struct {
	Fetcher PageFetcher
	// HTTP serves the structured-API strategies, which talk JSON to ATS
	// endpoints instead of crawling pages.
	HTTP            *http.Client
	UserAgent       string
	DefaultMaxPages int
	Logger          *zap.Logger
}

func (d Deps) httpClient() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (d Deps) maxPages(src jobs.SourceConfig) int {
	if src.MaxPages > 0 {
		return src.MaxPages
	}
	if d.DefaultMaxPages > 0 {
		return d.DefaultMaxPages
	}
	return 10
}

// resolveURL resolves ref against the page it appeared on. Resolving against
// the current page, not the original listing URL, keeps relative links on
// later pagination pages correct.
func resolveURL(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
