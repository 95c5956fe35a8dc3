package crawler

import (
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sitemirror/internal/limiter"
	"sitemirror/internal/render"
	"sitemirror/internal/stats"
)

// Per-item failure kinds. They are recorded in Summary.Failures and never stop the crawl.
var (
	ErrParse = errors.New("parse failed")
	ErrFetch = errors.New("fetch failed")
	ErrIO    = errors.New("write failed")
)

// Options configures a mirror run.
// Depth limits link hops from the root page; 0 means unlimited.
// Delay and RPS space out requests; the stricter one wins.
// Retries is the number of retries after the first attempt and defaults to none.
type Options struct {
	URL                string
	OutputDir          string
	ConsolidateCSS     bool
	Depth              int
	Workers            int
	MaxConcurrentFetch int
	AssetWorkers       int
	Retries            int
	Delay              time.Duration
	RPS                float64
	Timeout            time.Duration
	UserAgent          string
	IgnoreRobots       bool
	CDNHosts           []string
	Render             render.Options
	// Source replaces the page source built from Render. Mirror closes it.
	Source             render.Source
	HTTPClient         *http.Client
	Clock              limiter.Timer
	Logger             logrus.FieldLogger
}

// Summary is the end-of-run report. It is filled in even when the run is cut short.
type Summary struct {
	// Domain is the origin host without a www. prefix.
	Domain string
	// Origin is the root URL the crawl started from.
	Origin string
	// OutputDir is the directory the site was mirrored into.
	OutputDir string
	Elapsed   time.Duration
	Bytes     int64
	Pages     int64
	Assets    int64
	// StylesheetPath is set when a consolidated stylesheet was written.
	StylesheetPath string
	// Renderer names the page source used for the run.
	Renderer    string
	Failures    []stats.Failure
	Interrupted bool
}
