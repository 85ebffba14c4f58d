// Package robots resolves robots.txt policy per domain.
//
// Rule resolution follows Google's specificity semantics: among all rules
// whose pattern matches a path, the one with the longest pattern (wildcards
// stripped) wins, with ties going to Allow. Off-the-shelf parsers use
// first-match or longest-common-prefix resolution, which disallows paths like
// /careers/123 under "Disallow: /" + "Allow: /careers".
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// browserIdentity is the generic identity checked alongside the crawler's
// own. A fetch is allowed only when both identities are allowed.
const browserIdentity = "Mozilla"

// DefaultCrawlDelay applies when a site declares no Crawl-delay.
const DefaultCrawlDelay = time.Second

const maxRobotsBytes = 1 << 20

// rule is a single Allow or Disallow line.
type rule struct {
	allow   bool
	pattern string
}

// group is one or more consecutive User-agent lines and their rules.
type group struct {
	agents     []string
	rules      []rule
	crawlDelay time.Duration
}

// domainPolicy is the cached, parsed state for one host.
type domainPolicy struct {
	allowAll bool
	raw      string
	groups   []group
}

// Checker fetches, caches, and evaluates robots.txt per host.
// A nil Checker allows everything.
type Checker struct {
	client   *http.Client
	cache    sync.Map // host -> *domainPolicy
	identity string
	// userAgent is the header sent when fetching robots.txt itself.
	userAgent string
	logger    *zap.Logger
}

// New builds a Checker for the given crawler identity.
func New(identity, userAgent string, logger *zap.Logger) *Checker {
	return &Checker{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		identity:  identity,
		userAgent: userAgent,
		logger:    logger,
	}
}

// CanFetch reports whether the URL may be fetched under its own domain's
// robots.txt. Missing robots.txt (404) allows everything; a fetch or parse
// failure fails open and is logged.
func (c *Checker) CanFetch(ctx context.Context, rawURL string) bool {
	if c == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	policy, err := c.load(ctx, parsed)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	if policy.allowAll {
		return true
	}

	target := parsed.Path
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}

	botRules := selectGroup(policy.groups, c.identity)
	browserRules := selectGroup(policy.groups, browserIdentity)
	return pathAllowed(botRules, target) && pathAllowed(browserRules, target)
}

// CrawlDelay returns the politeness delay for the URL's host: the maximum
// declared for either identity, or DefaultCrawlDelay.
func (c *Checker) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	if c == nil {
		return DefaultCrawlDelay
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return DefaultCrawlDelay
	}
	policy, err := c.load(ctx, parsed)
	if err != nil || policy.allowAll {
		return DefaultCrawlDelay
	}

	var delay time.Duration
	for _, identity := range []string{c.identity, browserIdentity} {
		if g := selectGroupFull(policy.groups, identity); g != nil && g.crawlDelay > delay {
			delay = g.crawlDelay
		}
	}
	if delay == 0 {
		return DefaultCrawlDelay
	}
	return delay
}

// Content returns the cached robots.txt text for the URL's host, truncated
// for log embedding. It never triggers a network request.
func (c *Checker) Content(rawURL string, maxChars int) string {
	if c == nil {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	cached, ok := c.cache.Load(hostKey(parsed))
	if !ok {
		return "(content not cached for this domain)"
	}
	policy := cached.(*domainPolicy)
	content := policy.raw
	if content == "" {
		content = "(no robots.txt content available)"
	}
	if maxChars > 0 && len(content) > maxChars {
		content = content[:maxChars] + fmt.Sprintf("\n... (truncated, %d total chars)", len(policy.raw))
	}
	return content
}

func hostKey(parsed *url.URL) string {
	return strings.ToLower(parsed.Host)
}

func (c *Checker) load(ctx context.Context, parsed *url.URL) (*domainPolicy, error) {
	key := hostKey(parsed)
	if cached, ok := c.cache.Load(key); ok {
		policy, assertOK := cached.(*domainPolicy)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return policy, nil
	}

	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()

	var policy *domainPolicy
	switch {
	case resp.StatusCode == http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
		if readErr != nil {
			return nil, fmt.Errorf("read robots body: %w", readErr)
		}
		raw := string(body)
		policy = &domainPolicy{raw: raw, groups: parseGroups(raw)}
		c.logger.Info("Loaded robots.txt", zap.String("url", robotsURL))
	case resp.StatusCode == http.StatusNotFound:
		policy = &domainPolicy{allowAll: true, raw: "(no robots.txt found - 404)"}
		c.logger.Info("No robots.txt found, all paths allowed", zap.String("url", robotsURL))
	default:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, robotsURL)
	}

	c.cache.Store(key, policy)
	return policy, nil
}

// parseGroups splits robots.txt content into user-agent groups. A group is
// one or more consecutive User-agent lines followed by its rules; a
// User-agent line after rules starts a new group.
func parseGroups(content string) []group {
	var groups []group
	var current group
	inAgentSection := true

	flush := func() {
		if len(current.agents) > 0 {
			groups = append(groups, current)
		}
		current = group{}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			if !inAgentSection {
				flush()
			}
			current.agents = append(current.agents, strings.ToLower(value))
			inAgentSection = true
		case "allow", "disallow":
			inAgentSection = false
			if value != "" {
				current.rules = append(current.rules, rule{allow: field == "allow", pattern: value})
			}
		case "crawl-delay":
			inAgentSection = false
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				current.crawlDelay = time.Duration(secs * float64(time.Second))
			}
		}
	}
	flush()
	return groups
}

// selectGroupFull picks the group governing the identity: the first group
// with a specific (non-wildcard) agent prefix-matching the identity, else
// the first wildcard group, else nil.
func selectGroupFull(groups []group, identity string) *group {
	identityLower := strings.ToLower(identity)

	var best *group
	bestSpecific := false
	for i := range groups {
		specific := false
		wildcard := false
		for _, agent := range groups[i].agents {
			if agent == "*" {
				wildcard = true
			} else if strings.HasPrefix(identityLower, agent) {
				specific = true
			}
		}
		if specific {
			if !bestSpecific {
				best = &groups[i]
				bestSpecific = true
			}
		} else if wildcard && best == nil {
			best = &groups[i]
		}
	}
	return best
}

func selectGroup(groups []group, identity string) []rule {
	if g := selectGroupFull(groups, identity); g != nil {
		return g.rules
	}
	return nil
}

// pathAllowed applies specificity resolution: among all rules matching the
// path, the longest pattern (wildcards stripped) wins; ties favor Allow. No
// matching rule means allowed.
func pathAllowed(rules []rule, path string) bool {
	bestLen := -1
	bestAllow := true
	for _, r := range rules {
		if !patternMatches(r.pattern, path) {
			continue
		}
		specificity := len(strings.ReplaceAll(r.pattern, "*", ""))
		if specificity > bestLen || (specificity == bestLen && r.allow && !bestAllow) {
			bestLen = specificity
			bestAllow = r.allow
		}
	}
	if bestLen < 0 {
		return true
	}
	return bestAllow
}

// patternMatches reports whether a robots.txt pattern matches a path.
// Patterns are prefix matches by default, with * matching any sequence and
// a trailing $ anchoring the end.
func patternMatches(pattern, path string) bool {
	mustEnd := strings.HasSuffix(pattern, "$")
	if mustEnd {
		pattern = pattern[:len(pattern)-1]
	}
	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	if len(parts) == 1 {
		return !mustEnd || pos == len(path)
	}
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	last := parts[len(parts)-1]
	if mustEnd {
		return strings.HasSuffix(path[pos:], last)
	}
	return strings.Contains(path[pos:], last)
}
