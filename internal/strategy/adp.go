package strategy

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
)

const adpAPIBase = "https://workforcenow.adp.com/mascsr/default"

// ADP pulls listings from an ADP WorkforceNow career center's internal JSON
// endpoint. The company id (cid) and career center id (ccId) are required
// query parameters of the configured listing URL.
type ADP struct {
	deps Deps
	api  *apiClient
	// base is the WorkforceNow root; swapped out in tests.
	base string
}

// NewADP builds the ADP strategy.
func NewADP(deps Deps) *ADP {
	return &ADP{deps: deps, api: newAPIClient(deps), base: adpAPIBase}
}

type adpIdentifiers struct {
	cid  string
	ccID string
}

func (a *ADP) apiURL(ids adpIdentifiers) string {
	return fmt.Sprintf("%s/careercenter/public/events/staffing/v1/job-requisitions?cid=%s&ccId=%s&lang=en_US",
		a.base, url.QueryEscape(ids.cid), url.QueryEscape(ids.ccID))
}

func (a *ADP) jobURL(ids adpIdentifiers, itemID string) string {
	return fmt.Sprintf("%s/mdf/recruitment/recruitment.html?cid=%s&ccId=%s&lang=en_US&selectedMenuKey=CareerCenter&jobId=%s",
		a.base, url.QueryEscape(ids.cid), url.QueryEscape(ids.ccID), url.QueryEscape(itemID))
}

func parseADPIdentifiers(listingURL string) (adpIdentifiers, error) {
	parsed, err := url.Parse(listingURL)
	if err != nil {
		return adpIdentifiers{}, fmt.Errorf("invalid ADP URL %q", listingURL)
	}
	query := parsed.Query()
	ids := adpIdentifiers{cid: query.Get("cid"), ccID: query.Get("ccId")}
	if ids.cid == "" || ids.ccID == "" {
		return adpIdentifiers{}, fmt.Errorf("invalid ADP URL, missing cid or ccId parameters: %s", listingURL)
	}
	return ids, nil
}

type adpResponse struct {
	JobRequisitions []adpRequisition `json:"jobRequisitions"`
}

type adpRequisition struct {
	ItemID           string          `json:"itemID"`
	RequisitionTitle string          `json:"requisitionTitle"`
	Locations        []adpLocation   `json:"requisitionLocations"`
	WorkLevelCode    adpNameCode     `json:"workLevelCode"`
	CustomFieldGroup adpCustomFields `json:"customFieldGroup"`
}

type adpLocation struct {
	NameCode adpNameCode `json:"nameCode"`
	Address  adpAddress  `json:"address"`
}

type adpNameCode struct {
	CodeValue string `json:"codeValue"`
	ShortName string `json:"shortName"`
}

type adpAddress struct {
	CityName                 string      `json:"cityName"`
	CountrySubdivisionLevel1 adpNameCode `json:"countrySubdivisionLevel1"`
}

type adpCustomFields struct {
	StringFields []adpStringField `json:"stringFields"`
}

type adpStringField struct {
	NameCode    adpNameCode `json:"nameCode"`
	StringValue string      `json:"stringValue"`
}

// Run implements Strategy. The endpoint returns the whole requisition list
// in one response; there is no pagination.
func (a *ADP) Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	ids, err := parseADPIdentifiers(src.ListingURL)
	if err != nil {
		return nil, []string{err.Error()}
	}

	var payload adpResponse
	if reqErr := a.api.getJSON(ctx, a.apiURL(ids), &payload); reqErr != nil {
		return nil, []string{fmt.Sprintf("ADP API %v", reqErr)}
	}
	a.deps.Logger.Info("Fetched ADP requisitions",
		zap.String("source", src.Name), zap.Int("count", len(payload.JobRequisitions)))

	var found []jobs.ScrapedJob
	for _, req := range payload.JobRequisitions {
		if job, ok := a.parseRequisition(ids, src, req); ok {
			found = append(found, job)
		}
	}
	return found, nil
}

func (a *ADP) parseRequisition(ids adpIdentifiers, src jobs.SourceConfig, req adpRequisition) (jobs.ScrapedJob, bool) {
	if req.ItemID == "" || req.RequisitionTitle == "" {
		return jobs.ScrapedJob{}, false
	}

	var location, state string
	if len(req.Locations) > 0 {
		loc := req.Locations[0]
		location = jobs.CleanText(loc.NameCode.ShortName)
		state = loc.Address.CountrySubdivisionLevel1.CodeValue
		if location == "" && loc.Address.CityName != "" && state != "" {
			location = loc.Address.CityName + ", " + state
		}
	}

	// A customFieldGroup ExternalJobID entry overrides the item id; it
	// stays stable when ADP reissues requisitions.
	externalID := req.ItemID
	for _, field := range req.CustomFieldGroup.StringFields {
		if field.NameCode.CodeValue == "ExternalJobID" {
			if field.StringValue != "" {
				externalID = field.StringValue
			}
			break
		}
	}

	return jobs.ScrapedJob{
		ExternalID:   jobs.ExternalID(fmt.Sprintf("adp-%s-%s", ids.cid, externalID)),
		Title:        req.RequisitionTitle,
		URL:          a.jobURL(ids, req.ItemID),
		Organization: src.Name,
		Location:     location,
		State:        state,
		JobType:      req.WorkLevelCode.ShortName,
	}, true
}
