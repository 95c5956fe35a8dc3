package policy

import (
	"net/url"
	"strings"

	"sitemirror/internal/robots"
	"sitemirror/internal/urlutil"
)

// RobotsAgent is the user agent robots rules are evaluated for.
const RobotsAgent = "*"

// DefaultCDNHosts are off-origin hosts whose references are kept absolute.
var DefaultCDNHosts = []string{
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"unpkg.com",
	"fonts.googleapis.com",
	"ajax.googleapis.com",
}

// Action is what the rewriter does with one resource reference.
type Action int

const (
	// Keep leaves the reference as an absolute URL.
	Keep Action = iota
	// Enqueue rewrites the reference locally and schedules the target page.
	Enqueue
	// Download rewrites the reference locally and mirrors the asset.
	Download
	// Blocked is a same-origin page robots.txt disallows. The reference is rewritten
	// locally but the page is not scheduled.
	Blocked
)

func (a Action) String() string {
	switch a {
	case Enqueue:
		return "enqueue"
	case Download:
		return "download"
	case Blocked:
		return "blocked"
	default:
		return "keep"
	}
}

// Gate answers the origin, CDN and robots questions of a crawl.
type Gate struct {
	origin urlutil.Origin
	cdn    map[string]struct{}
	rules  *robots.Rules
}

// New builds a gate. Extra CDN hosts extend DefaultCDNHosts.
// A nil rules value allows every URL.
func New(origin urlutil.Origin, rules *robots.Rules, extraCDN ...string) *Gate {
	cdn := make(map[string]struct{}, len(DefaultCDNHosts)+len(extraCDN))
	for _, host := range append(append([]string{}, DefaultCDNHosts...), extraCDN...) {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			cdn[host] = struct{}{}
		}
	}

	return &Gate{origin: origin, cdn: cdn, rules: rules}
}

// Origin returns the crawl origin.
func (g *Gate) Origin() urlutil.Origin {
	return g.origin
}

// SameDomain reports whether rawURL belongs to the origin.
func (g *Gate) SameDomain(rawURL string) bool {
	return g.origin.SameDomain(rawURL)
}

// IsCDN reports whether rawURL is served by an allowlisted CDN host.
func (g *Gate) IsCDN(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	_, ok := g.cdn[strings.ToLower(parsed.Host)]

	return ok
}

// Allowed reports whether robots.txt permits fetching rawURL.
func (g *Gate) Allowed(rawURL string) bool {
	return g.rules.CanFetch(RobotsAgent, rawURL)
}

// OnOrigin moves a same-domain URL onto the origin's scheme and host so that
// www and bare spellings of one page share a dedup key. Other URLs are returned unchanged.
func (g *Gate) OnOrigin(rawURL string) string {
	if g.origin.URL == nil || !g.SameDomain(rawURL) {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.Scheme = g.origin.URL.Scheme
	parsed.Host = g.origin.URL.Host

	return parsed.String()
}

// Classify applies the rewrite decision table to a canonical URL.
// Robots rules only gate page recursion; assets are fetched regardless.
func (g *Gate) Classify(rawURL string, isAnchor bool) Action {
	sameDomain := g.SameDomain(rawURL)

	switch {
	case sameDomain && isAnchor:
		if !g.Allowed(rawURL) {
			return Blocked
		}

		return Enqueue
	case sameDomain:
		return Download
	case isAnchor, g.IsCDN(rawURL):
		return Keep
	default:
		return Download
	}
}
