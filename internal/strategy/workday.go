package strategy

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
)

// workdayPageSize is the page size Workday portals accept; larger limits are
// silently clamped by the platform.
const workdayPageSize = 20

// apiSafetyLimit caps ATS pagination so a misbehaving endpoint cannot loop
// forever.
const apiSafetyLimit = 1000

var (
	workdayJobIDRe  = regexp.MustCompile(`_([A-Z0-9]+(?:-\d+)?)$`)
	nLocationsRe    = regexp.MustCompile(`^\d+ Locations?$`)
	trailingStateRe = regexp.MustCompile(`,\s*([A-Z]{2})$`)
)

// Workday pulls listings from a Workday career portal's internal JSON
// endpoint (POST /wday/cxs/{tenant}/{site}/jobs). The tenant and site are
// parsed from the configured listing URL, e.g.
// https://calistacorp.wd1.myworkdayjobs.com/Calista.
type Workday struct {
	deps Deps
	api  *apiClient
}

// NewWorkday builds the Workday strategy.
func NewWorkday(deps Deps) *Workday {
	return &Workday{deps: deps, api: newAPIClient(deps)}
}

type workdayEndpoint struct {
	scheme string
	host   string
	tenant string
	site   string
}

func (e workdayEndpoint) apiURL() string {
	return fmt.Sprintf("%s://%s/wday/cxs/%s/%s/jobs", e.scheme, e.host, e.tenant, e.site)
}

func (e workdayEndpoint) jobURL(externalPath string) string {
	return fmt.Sprintf("%s://%s/en-US/%s%s", e.scheme, e.host, e.site, externalPath)
}

func parseWorkdayEndpoint(listingURL string) (workdayEndpoint, error) {
	parsed, err := url.Parse(listingURL)
	if err != nil || parsed.Host == "" {
		return workdayEndpoint{}, fmt.Errorf("invalid Workday URL %q", listingURL)
	}
	tenant, _, _ := strings.Cut(parsed.Host, ".")
	var site string
	for _, part := range strings.Split(parsed.Path, "/") {
		if part != "" {
			site = part
			break
		}
	}
	if tenant == "" || site == "" {
		return workdayEndpoint{}, fmt.Errorf(
			"could not extract tenant/site from Workday URL %q; expected https://{tenant}.wd1.myworkdayjobs.com/{site}", listingURL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return workdayEndpoint{scheme: scheme, host: parsed.Host, tenant: tenant, site: site}, nil
}

type workdaySearchRequest struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	SearchText string `json:"searchText"`
}

type workdaySearchResponse struct {
	Total       int              `json:"total"`
	JobPostings []workdayPosting `json:"jobPostings"`
}

type workdayPosting struct {
	Title         string   `json:"title"`
	ExternalPath  string   `json:"externalPath"`
	LocationsText string   `json:"locationsText"`
	BulletFields  []string `json:"bulletFields"`
}

// Run implements Strategy.
func (w *Workday) Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	endpoint, err := parseWorkdayEndpoint(src.ListingURL)
	if err != nil {
		return nil, []string{err.Error()}
	}

	var found []jobs.ScrapedJob
	offset := 0
	for {
		var page workdaySearchResponse
		reqErr := w.api.postJSON(ctx, endpoint.apiURL(), workdaySearchRequest{
			Limit:  workdayPageSize,
			Offset: offset,
		}, &page)
		if reqErr != nil {
			return found, []string{fmt.Sprintf("Workday API %v", reqErr)}
		}
		if len(page.JobPostings) == 0 {
			break
		}
		w.deps.Logger.Info("Fetched Workday page",
			zap.String("source", src.Name), zap.Int("offset", offset),
			zap.Int("count", len(page.JobPostings)), zap.Int("total", page.Total))

		for _, posting := range page.JobPostings {
			if job, ok := w.parsePosting(endpoint, posting); ok {
				found = append(found, job)
			}
		}

		offset += len(page.JobPostings)
		if offset >= page.Total {
			break
		}
		if offset > apiSafetyLimit {
			w.deps.Logger.Warn("Hit Workday pagination safety limit", zap.String("source", src.Name))
			break
		}
	}
	return found, nil
}

func (w *Workday) parsePosting(endpoint workdayEndpoint, posting workdayPosting) (jobs.ScrapedJob, bool) {
	if posting.Title == "" || posting.ExternalPath == "" {
		return jobs.ScrapedJob{}, false
	}

	// externalPath looks like /job/Anchorage-AK/Billing-Specialist_JR107856;
	// the trailing requisition token is the stable identifier.
	jobID := posting.ExternalPath
	if m := workdayJobIDRe.FindStringSubmatch(posting.ExternalPath); m != nil {
		jobID = m[1]
	}
	externalID := jobs.ExternalID(fmt.Sprintf("workday-%s-%s-%s", endpoint.tenant, endpoint.site, jobID))

	var location, state string
	if posting.LocationsText != "" && !nLocationsRe.MatchString(posting.LocationsText) {
		location = posting.LocationsText
		if m := trailingStateRe.FindStringSubmatch(location); m != nil {
			state = m[1]
		}
	}

	var organization string
	if len(posting.BulletFields) > 0 {
		organization = posting.BulletFields[0]
	}

	return jobs.ScrapedJob{
		ExternalID:   externalID,
		Title:        posting.Title,
		URL:          endpoint.jobURL(posting.ExternalPath),
		Organization: organization,
		Location:     location,
		State:        state,
	}, true
}
