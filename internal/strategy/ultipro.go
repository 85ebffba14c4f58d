package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
)

// ultiProPageSize is the page size requested from UltiPro job boards.
const ultiProPageSize = 50

// UltiPro pulls listings from a UKG Pro Recruiting (UltiPro) job board's
// internal JSON endpoint (POST {board}/JobBoardView/LoadSearchResults). The
// tenant and board id are parsed from the configured listing URL, e.g.
// https://recruiting2.ultipro.com/{tenant}/JobBoard/{board-id}/.
type UltiPro struct {
	deps Deps
	api  *apiClient
}

// NewUltiPro builds the UltiPro strategy.
func NewUltiPro(deps Deps) *UltiPro {
	return &UltiPro{deps: deps, api: newAPIClient(deps)}
}

type ultiProBoard struct {
	boardURL string
	boardID  string
}

func (b ultiProBoard) apiURL() string {
	return b.boardURL + "/JobBoardView/LoadSearchResults"
}

func (b ultiProBoard) jobURL(opportunityID string) string {
	return b.boardURL + "/OpportunityDetail?opportunityId=" + opportunityID
}

// parseUltiProBoard accepts either the board URL or a pasted job-detail URL
// and normalizes to the board root.
func parseUltiProBoard(listingURL string) (ultiProBoard, error) {
	parsed, err := url.Parse(listingURL)
	if err != nil || parsed.Host == "" {
		return ultiProBoard{}, fmt.Errorf("invalid UltiPro URL %q", listingURL)
	}
	var parts []string
	for _, p := range strings.Split(parsed.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for i, part := range parts {
		if strings.EqualFold(part, "jobboard") && i > 0 && i+1 < len(parts) {
			scheme := parsed.Scheme
			if scheme == "" {
				scheme = "https"
			}
			return ultiProBoard{
				boardURL: fmt.Sprintf("%s://%s/%s/JobBoard/%s", scheme, parsed.Host, parts[i-1], parts[i+1]),
				boardID:  parts[i+1],
			}, nil
		}
	}
	return ultiProBoard{}, fmt.Errorf(
		"could not extract tenant/board-id from UltiPro URL %q; expected https://recruiting2.ultipro.com/{tenant}/JobBoard/{board-id}/", listingURL)
}

type ultiProSearchRequest struct {
	OpportunitySearch ultiProSearch `json:"opportunitySearch"`
}

type ultiProSearch struct {
	Top         int               `json:"Top"`
	Skip        int               `json:"Skip"`
	QueryString string            `json:"QueryString"`
	OrderBy     []ultiProOrdering `json:"OrderBy"`
}

type ultiProOrdering struct {
	Value        string `json:"Value"`
	PropertyName string `json:"PropertyName"`
}

type ultiProSearchResponse struct {
	Opportunities []ultiProOpportunity `json:"opportunities"`
}

type ultiProOpportunity struct {
	ID                string            `json:"Id"`
	Title             string            `json:"Title"`
	RequisitionNumber string            `json:"RequisitionNumber"`
	BriefDescription  string            `json:"BriefDescription"`
	FullTime          *bool             `json:"FullTime"`
	Locations         []ultiProLocation `json:"Locations"`
}

type ultiProLocation struct {
	Address ultiProAddress `json:"Address"`
}

type ultiProAddress struct {
	City  string       `json:"City"`
	State ultiProState `json:"State"`
}

// ultiProState accepts the two shapes the platform emits: a bare code string
// or an object like {"Code": "AK", "Name": "Alaska"}.
type ultiProState struct {
	Code string
}

func (s *ultiProState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Code = str
		return nil
	}
	var obj struct {
		Code string `json:"Code"`
		Name string `json:"Name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		s.Code = ""
		return nil
	}
	if obj.Code != "" {
		s.Code = obj.Code
	} else {
		s.Code = obj.Name
	}
	return nil
}

// Run implements Strategy.
func (u *UltiPro) Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	board, err := parseUltiProBoard(src.ListingURL)
	if err != nil {
		return nil, []string{err.Error()}
	}

	var found []jobs.ScrapedJob
	skip := 0
	for {
		var page ultiProSearchResponse
		reqErr := u.api.postJSON(ctx, board.apiURL(), ultiProSearchRequest{
			OpportunitySearch: ultiProSearch{
				Top:  ultiProPageSize,
				Skip: skip,
				OrderBy: []ultiProOrdering{
					{Value: "postedDateDesc", PropertyName: "PostedDate"},
				},
			},
		}, &page)
		if reqErr != nil {
			return found, []string{fmt.Sprintf("UltiPro API %v", reqErr)}
		}
		if len(page.Opportunities) == 0 {
			break
		}
		u.deps.Logger.Info("Fetched UltiPro page",
			zap.String("source", src.Name), zap.Int("skip", skip), zap.Int("count", len(page.Opportunities)))

		for _, opp := range page.Opportunities {
			if job, ok := u.parseOpportunity(board, src, opp); ok {
				found = append(found, job)
			}
		}

		if len(page.Opportunities) < ultiProPageSize {
			break
		}
		skip += ultiProPageSize
		if skip > apiSafetyLimit {
			u.deps.Logger.Warn("Hit UltiPro pagination safety limit", zap.String("source", src.Name))
			break
		}
	}
	return found, nil
}

func (u *UltiPro) parseOpportunity(board ultiProBoard, src jobs.SourceConfig, opp ultiProOpportunity) (jobs.ScrapedJob, bool) {
	if opp.ID == "" || opp.Title == "" {
		return jobs.ScrapedJob{}, false
	}

	var location, state string
	if len(opp.Locations) > 0 {
		address := opp.Locations[0].Address
		state = address.State.Code
		switch {
		case address.City != "" && state != "":
			location = address.City + ", " + state
		case address.City != "":
			location = address.City
		default:
			location = state
		}
	}

	var jobType string
	if opp.FullTime != nil {
		if *opp.FullTime {
			jobType = "Full-time"
		} else {
			jobType = "Part-time"
		}
	}

	requisition := opp.RequisitionNumber
	if requisition == "" {
		requisition = opp.ID
	}

	return jobs.ScrapedJob{
		ExternalID:   jobs.ExternalID(fmt.Sprintf("ultipro-%s-%s", board.boardID, requisition)),
		Title:        opp.Title,
		URL:          board.jobURL(opp.ID),
		Organization: src.Name,
		Location:     location,
		State:        state,
		Description:  opp.BriefDescription,
		JobType:      jobType,
	}, true
}
