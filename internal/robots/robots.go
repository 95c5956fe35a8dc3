package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"sitemirror/internal/fetcher"
)

// Rules holds the parsed robots.txt of one origin.
// A nil data set means no applicable rules: everything is allowed.
type Rules struct {
	data *robotstxt.RobotsData
}

// AllowAll returns rules that permit every URL.
func AllowAll() *Rules {
	return &Rules{}
}

// Parse builds rules from a robots.txt body.
func Parse(body []byte) (*Rules, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	return &Rules{data: data}, nil
}

// Load fetches /robots.txt relative to origin once.
// Unreachable or unparsable files fail open.
func Load(ctx context.Context, fetch *fetcher.Fetcher, origin *url.URL, logger logrus.FieldLogger) *Rules {
	robotsURL := origin.ResolveReference(&url.URL{Path: "/robots.txt"}).String()
	log := logger.WithField("url", robotsURL)

	result, err := fetch.Fetch(ctx, robotsURL)
	if err != nil {
		log.WithError(err).Warn("could not read robots.txt, allowing all")

		return AllowAll()
	}
	if result.StatusCode >= http.StatusBadRequest {
		log.WithField("status", result.StatusCode).Warn("robots.txt unavailable, allowing all")

		return AllowAll()
	}

	rules, err := Parse(result.Body)
	if err != nil {
		log.WithError(err).Warn("could not parse robots.txt, allowing all")

		return AllowAll()
	}

	log.Debug("robots.txt loaded")

	return rules
}

// CanFetch reports whether userAgent may fetch rawURL.
func (r *Rules) CanFetch(userAgent string, rawURL string) bool {
	if r == nil || r.data == nil {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	return r.data.TestAgent(parsed.RequestURI(), userAgent)
}
