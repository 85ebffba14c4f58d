package jobs

import (
	"regexp"
	"strings"
)

// usStates maps lowercase full state names to their two-letter codes.
var usStates = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY",
}

var stateAbbrevs = func() map[string]string {
	m := make(map[string]string, len(usStates)+1)
	for _, abbr := range usStates {
		m[abbr] = abbr
	}
	m["DC"] = "DC"
	return m
}()

// StateCodeFromSlug returns the canonical code for a lowercase two-letter
// state slug ("ak" -> "AK"), or "" if it is not a US state.
func StateCodeFromSlug(slug string) string {
	return stateAbbrevs[strings.ToUpper(slug)]
}

// NormalizeState maps a state name or abbreviation to its two-letter code.
// Returns "" when the input is not recognizable.
func NormalizeState(in string) string {
	s := strings.TrimSpace(in)
	if s == "" {
		return ""
	}
	if code, ok := stateAbbrevs[strings.ToUpper(s)]; ok {
		return code
	}
	if code, ok := usStates[strings.ToLower(s)]; ok {
		return code
	}
	return ""
}

var locationStatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`,\s*([A-Z]{2})\s*$`),
	regexp.MustCompile(`,\s*([A-Z]{2})\s+\d{5}`),
	regexp.MustCompile(`\b([A-Z]{2})\s+\d{5}`),
}

// ExtractStateFromLocation pulls a state code out of a free-form location
// string such as "Anchorage, AK" or "Nome, Alaska".
func ExtractStateFromLocation(location string) string {
	if location == "" {
		return ""
	}
	for _, p := range locationStatePatterns {
		if m := p.FindStringSubmatch(location); m != nil {
			if _, ok := stateAbbrevs[m[1]]; ok {
				return m[1]
			}
		}
	}
	lower := strings.ToLower(location)
	for name, code := range usStates {
		if strings.Contains(lower, name) {
			return code
		}
	}
	return ""
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

var salaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$[\d,]+(?:\s*-\s*\$[\d,]+)?(?:\s*(?:per|/)\s*(?:hour|hr|year|yr|annual|month|mo))?`),
	regexp.MustCompile(`(?i)[\d,]+(?:\s*-\s*[\d,]+)?\s*(?:per|/)\s*(?:hour|hr|year|yr|annual|month|mo)`),
	regexp.MustCompile(`(?i)(?:salary|pay|wage|compensation)[:\s]*\$?[\d,]+(?:\s*-\s*\$?[\d,]+)?`),
}

// ExtractSalary pulls salary-looking text out of a blob, or returns "".
func ExtractSalary(text string) string {
	if text == "" {
		return ""
	}
	for _, p := range salaryPatterns {
		if m := p.FindString(text); m != "" {
			return CleanText(m)
		}
	}
	return ""
}

// NormalizeJobType maps free-form employment-type text onto the standard
// values used across sources.
func NormalizeJobType(jobType string) string {
	if jobType == "" {
		return ""
	}
	lower := strings.ToLower(jobType)
	switch {
	case containsAny(lower, "full-time", "full time", "fulltime"):
		return "Full-time"
	case containsAny(lower, "part-time", "part time", "parttime"):
		return "Part-time"
	case strings.Contains(lower, "seasonal"):
		return "Seasonal"
	case strings.Contains(lower, "contract"):
		return "Contract"
	case strings.Contains(lower, "temporary"), strings.Contains(lower, "temp"):
		return "Temporary"
	case strings.Contains(lower, "intern"):
		return "Internship"
	}
	return CleanText(jobType)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
