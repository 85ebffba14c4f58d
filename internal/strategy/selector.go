package strategy

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/fetch"
	"github.com/farreach/jobingest/internal/jobs"
)

// Selector extracts jobs from listing pages using configured CSS selectors.
// It is fully configuration-driven: new sources need no code, only selectors.
type Selector struct {
	deps Deps
}

// NewSelector builds the selector strategy.
func NewSelector(deps Deps) *Selector {
	return &Selector{deps: deps}
}

// Run implements Strategy.
func (s *Selector) Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	if src.ListingURL == "" {
		return nil, []string{fmt.Sprintf("no listing URL configured for %s", src.Name)}
	}
	if src.Selectors.Container == "" {
		return nil, []string{fmt.Sprintf("no job container selector configured for %s", src.Name)}
	}

	render := src.RenderMode == jobs.RenderBrowser
	opts := fetch.Options{
		Render:     render,
		SkipRobots: src.SkipRobotsCheck,
	}
	if render {
		// The job container appearing means the listing finished loading.
		opts.WaitFor = src.Selectors.Container
	}
	maxPages := s.deps.maxPages(src)

	if render && src.Selectors.NextPage != "" {
		return s.runInSession(ctx, src, opts, maxPages)
	}
	return s.runPaged(ctx, src, opts, maxPages)
}

// runPaged fetches page by page, following the configured next-page link.
func (s *Selector) runPaged(ctx context.Context, src jobs.SourceConfig, opts fetch.Options, maxPages int) ([]jobs.ScrapedJob, []string) {
	var (
		all  []jobs.ScrapedJob
		errs []string
	)
	currentURL := src.ListingURL

	for page := 0; page < maxPages && currentURL != ""; page++ {
		if page > 0 {
			if err := s.deps.Fetcher.Pause(ctx, currentURL); err != nil {
				errs = append(errs, fmt.Sprintf("canceled while waiting to fetch %s: %v", currentURL, err))
				break
			}
		}

		doc, err := s.deps.Fetcher.Fetch(ctx, currentURL, opts)
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to fetch %s: %v", currentURL, err))
			break
		}

		pageJobs := s.parsePage(doc, src)
		all = append(all, pageJobs...)
		s.deps.Logger.Info("Parsed listing page",
			zap.String("source", src.Name), zap.Int("page", page+1), zap.Int("jobs", len(pageJobs)))

		currentURL = s.nextPageURL(doc, src, page, maxPages)
	}
	return all, errs
}

// runInSession drives in-page pagination inside one browser session.
func (s *Selector) runInSession(ctx context.Context, src jobs.SourceConfig, opts fetch.Options, maxPages int) ([]jobs.ScrapedJob, []string) {
	docs, err := s.deps.Fetcher.FetchPages(ctx, src.ListingURL, src.Selectors.NextPage, opts, maxPages)
	if err != nil && len(docs) == 0 {
		return nil, []string{fmt.Sprintf("failed to fetch %s: %v", src.ListingURL, err)}
	}

	var (
		all  []jobs.ScrapedJob
		errs []string
	)
	if err != nil {
		errs = append(errs, fmt.Sprintf("pagination stopped early for %s: %v", src.ListingURL, err))
	}
	for i, doc := range docs {
		pageJobs := s.parsePage(doc, src)
		all = append(all, pageJobs...)
		s.deps.Logger.Info("Parsed rendered page",
			zap.String("source", src.Name), zap.Int("page", i+1), zap.Int("jobs", len(pageJobs)))
	}
	return all, errs
}

func (s *Selector) nextPageURL(doc *fetch.Document, src jobs.SourceConfig, page, maxPages int) string {
	if src.Selectors.NextPage == "" || page >= maxPages-1 {
		return ""
	}
	link := doc.Find(src.Selectors.NextPage).First()
	if link.Length() == 0 {
		return ""
	}
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return ""
	}
	return resolveURL(doc.URL, href)
}

func (s *Selector) parsePage(doc *fetch.Document, src jobs.SourceConfig) []jobs.ScrapedJob {
	sel := src.Selectors
	var out []jobs.ScrapedJob

	doc.Find(sel.Container).Each(func(_ int, container *goquery.Selection) {
		title := extractText(container, sel.Title)
		if title == "" {
			return
		}
		jobURL := extractURL(container, sel.URL, sel.URLAttribute, doc.URL)

		var externalID string
		if jobURL != "" {
			externalID = jobs.ExternalID(jobURL)
		} else {
			externalID = jobs.ExternalID(src.Name + ":" + title)
		}

		location := extractText(container, sel.Location)
		if location == "" {
			location = src.DefaultLocation
		}
		state := jobs.ExtractStateFromLocation(location)
		if state == "" {
			state = jobs.NormalizeState(src.DefaultState)
		}

		recordURL := jobURL
		if recordURL == "" {
			recordURL = doc.URL
		}

		out = append(out, jobs.ScrapedJob{
			ExternalID:   externalID,
			Title:        title,
			URL:          recordURL,
			Organization: extractText(container, sel.Organization),
			Location:     location,
			State:        state,
			Description:  extractText(container, sel.Description),
			JobType:      jobs.NormalizeJobType(extractText(container, sel.JobType)),
			SalaryInfo:   extractText(container, sel.Salary),
		})
	})
	return out
}

func extractText(container *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return jobs.CleanText(container.Find(selector).First().Text())
}

func extractURL(container *goquery.Selection, selector, attribute, pageURL string) string {
	if selector == "" {
		return ""
	}
	element := container.Find(selector).First()
	if element.Length() == 0 {
		return ""
	}
	if attribute == "" {
		attribute = "href"
	}
	raw, ok := element.Attr(attribute)
	if !ok || raw == "" {
		return ""
	}
	return resolveURL(pageURL, raw)
}
