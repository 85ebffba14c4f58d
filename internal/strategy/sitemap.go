package strategy

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/fetch"
	"github.com/farreach/jobingest/internal/jobs"
)

// maxSitemapDepth bounds sitemap-index recursion, including on indexes that
// reference themselves.
const maxSitemapDepth = 3

var (
	hexSlugRe = regexp.MustCompile(`^[0-9a-fA-F-]+$`)
	longHexRe = regexp.MustCompile(`^[0-9a-fA-F]{20,}$`)
	uuidHexRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// Sitemap extracts jobs from XML sitemaps, deriving title and location from
// URL structure. Useful for sites whose listing pages are JavaScript-rendered
// but whose sitemap enumerates individual job URLs like
// /kotzebue-ak/customer-service-agent/873E0B7E.../job/.
type Sitemap struct {
	deps Deps
}

// NewSitemap builds the sitemap strategy.
func NewSitemap(deps Deps) *Sitemap {
	return &Sitemap{deps: deps}
}

type sitemapXML struct {
	XMLName  xml.Name
	Sitemaps []sitemapLoc `xml:"sitemap"`
	URLs     []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// Run implements Strategy.
func (s *Sitemap) Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	if src.SitemapURL == "" {
		return nil, []string{fmt.Sprintf("no sitemap URL configured for %s", src.Name)}
	}
	opts := fetch.Options{SkipRobots: src.SkipRobotsCheck}

	doc, err := s.deps.Fetcher.Fetch(ctx, src.SitemapURL, opts)
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to fetch sitemap %s: %v", src.SitemapURL, err)}
	}

	allURLs, errs := s.collectURLs(ctx, doc.HTML, opts, 0)
	s.deps.Logger.Info("Collected sitemap URLs",
		zap.String("source", src.Name), zap.Int("urls", len(allURLs)))
	if len(allURLs) == 0 {
		errs = append(errs, fmt.Sprintf("no URLs found in sitemap %s", src.SitemapURL))
		return nil, errs
	}

	filtered := s.filterURLs(allURLs, src.SitemapURLPattern)
	if len(filtered) == 0 {
		errs = append(errs, fmt.Sprintf("no URLs matched pattern %q (out of %d total URLs)",
			src.SitemapURLPattern, len(allURLs)))
		return nil, errs
	}

	var (
		found       []jobs.ScrapedJob
		unparseable []string
	)
	for _, jobURL := range filtered {
		if job, ok := s.parseJobFromURL(jobURL, src); ok {
			found = append(found, job)
		} else {
			unparseable = append(unparseable, jobURL)
		}
	}
	errs = append(errs, parseRateDiagnostics(len(found), len(filtered), unparseable)...)

	s.deps.Logger.Info("Parsed sitemap jobs",
		zap.String("source", src.Name), zap.Int("jobs", len(found)), zap.Int("urls", len(filtered)))
	return found, errs
}

// collectURLs parses one sitemap document, recursing into child sitemaps for
// index files. Child fetches pass through the robots gate since they are
// frequently cross-domain.
func (s *Sitemap) collectURLs(ctx context.Context, content string, opts fetch.Options, depth int) ([]string, []string) {
	var parsed sitemapXML
	if err := xml.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, []string{fmt.Sprintf("failed to parse sitemap XML: %v", err)}
	}

	if parsed.XMLName.Local == "sitemapindex" {
		if depth >= maxSitemapDepth {
			return nil, []string{fmt.Sprintf("sitemap index recursion limit reached (depth %d)", depth)}
		}
		var (
			urls []string
			errs []string
		)
		for _, child := range parsed.Sitemaps {
			childURL := strings.TrimSpace(child.Loc)
			if childURL == "" {
				continue
			}
			childDoc, err := s.deps.Fetcher.Fetch(ctx, childURL, opts)
			if err != nil {
				errs = append(errs, fmt.Sprintf("failed to fetch child sitemap %s: %v", childURL, err))
				continue
			}
			childURLs, childErrs := s.collectURLs(ctx, childDoc.HTML, opts, depth+1)
			urls = append(urls, childURLs...)
			errs = append(errs, childErrs...)
		}
		return urls, errs
	}

	var urls []string
	for _, u := range parsed.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

func (s *Sitemap) filterURLs(urls []string, pattern string) []string {
	if pattern == "" {
		return urls
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		s.deps.Logger.Error("Invalid sitemap URL filter pattern",
			zap.String("pattern", pattern), zap.Error(err))
		return urls
	}
	var filtered []string
	for _, u := range urls {
		if re.MatchString(u) {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

func (s *Sitemap) parseJobFromURL(jobURL string, src jobs.SourceConfig) (jobs.ScrapedJob, bool) {
	segments := pathSegments(jobURL)

	title := titleFromSegments(segments)
	if title == "" {
		return jobs.ScrapedJob{}, false
	}

	city, state := locationFromSegments(segments)
	location := ""
	switch {
	case city != "" && state != "":
		location = city + ", " + state
	case city != "":
		location = city
	default:
		location = src.DefaultLocation
	}
	if state == "" {
		state = jobs.NormalizeState(src.DefaultState)
	}

	organization := src.Organization
	if organization == "" {
		organization = src.Name
	}

	return jobs.ScrapedJob{
		ExternalID:   externalIDFromURL(jobURL, segments),
		Title:        title,
		URL:          jobURL,
		Organization: organization,
		Location:     location,
		State:        state,
	}, true
}

func pathSegments(rawURL string) []string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var segments []string
	for _, s := range strings.Split(parsed.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// locationFromSegments reads a city-state slug like "kotzebue-ak" from the
// first path segment.
func locationFromSegments(segments []string) (city, state string) {
	if len(segments) == 0 {
		return "", ""
	}
	first := strings.ToLower(segments[0])
	idx := strings.LastIndex(first, "-")
	if idx <= 0 {
		return "", ""
	}
	code := jobs.StateCodeFromSlug(first[idx+1:])
	if code == "" {
		return "", ""
	}
	return titleCase(strings.ReplaceAll(first[:idx], "-", " ")), code
}

// titleFromSegments converts the second path segment from a slug to a title,
// skipping segments that look like IDs.
func titleFromSegments(segments []string) string {
	if len(segments) < 2 {
		return ""
	}
	slug := segments[1]
	if hexSlugRe.MatchString(slug) {
		return ""
	}
	return titleCase(strings.ReplaceAll(slug, "-", " "))
}

// externalIDFromURL prefers a UUID-like or long-hex path segment; job portals
// keep those stable across sitemap regenerations. Falls back to a URL hash.
func externalIDFromURL(rawURL string, segments []string) string {
	for _, segment := range segments {
		if segment == "job" {
			continue
		}
		if longHexRe.MatchString(segment) || uuidHexRe.MatchString(segment) {
			return segment
		}
	}
	return jobs.ExternalID(rawURL)
}

func parseRateDiagnostics(parsed, total int, unparseable []string) []string {
	if len(unparseable) == 0 {
		return nil
	}
	if parsed == 0 {
		samples := unparseable
		if len(samples) > 3 {
			samples = samples[:3]
		}
		return []string{fmt.Sprintf(
			"could not parse any jobs from %d URLs; URL structure may not match expected pattern; sample URLs: %s",
			len(unparseable), strings.Join(samples, ", "))}
	}
	if rate := float64(parsed) / float64(total) * 100; rate < 50 {
		return []string{fmt.Sprintf(
			"only parsed %d/%d URLs (%.0f%%); some URLs may have unexpected structure",
			parsed, total, rate)}
	}
	return nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
