package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"sitemirror/internal/assets"
	"sitemirror/internal/fetcher"
	"sitemirror/internal/limiter"
	"sitemirror/internal/pathmap"
	"sitemirror/internal/policy"
	"sitemirror/internal/render"
	"sitemirror/internal/rewrite"
	"sitemirror/internal/robots"
	"sitemirror/internal/stats"
	"sitemirror/internal/styles"
	"sitemirror/internal/urlutil"
)

const defaultUserAgent = "sitemirror/1.0"

// Mirror copies the site at opts.URL into opts.OutputDir/<host>.
// Per-page and per-asset failures end up in Summary.Failures. An error is
// returned only for unusable options or when ctx ends the run early; the
// summary of everything done so far is returned in both cases.
func Mirror(ctx context.Context, opts Options) (Summary, error) {
	opts = withDefaults(opts)
	summary := Summary{Origin: opts.URL}

	if opts.URL == "" {
		return summary, errors.New("url is required")
	}

	origin, err := urlutil.ParseOrigin(opts.URL)
	if err != nil {
		return summary, fmt.Errorf("invalid root url: %w", err)
	}

	summary.Domain = origin.Host
	summary.Origin = origin.String()

	if opts.HTTPClient == nil {
		return summary, errors.New("http client is required")
	}

	mapper := pathmap.New(filepath.Join(opts.OutputDir, origin.Host))
	summary.OutputDir = mapper.Root

	if err := os.MkdirAll(mapper.Root, 0o755); err != nil {
		return summary, fmt.Errorf("create output directory: %w", err)
	}

	st := stats.New(opts.Clock)
	failures := stats.NewFailures()

	fetch := fetcher.New(
		opts.HTTPClient,
		opts.Timeout,
		opts.UserAgent,
		limiter.NewWithTimer(limiter.Interval(opts.Delay, opts.RPS), opts.Clock),
		opts.Retries,
		0,
		opts.Clock,
	)

	rules := robots.AllowAll()
	if !opts.IgnoreRobots {
		rules = robots.Load(ctx, fetch, origin.URL, opts.Logger)
	}
	gate := policy.New(origin, rules, opts.CDNHosts...)

	renderOpts := opts.Render
	if renderOpts.UserAgent == "" {
		renderOpts.UserAgent = opts.UserAgent
	}
	source := opts.Source
	if source == nil {
		source = render.Open(ctx, renderOpts, render.NewHTTP(fetch), opts.Logger)
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			opts.Logger.WithError(closeErr).Warn("failed to close page source")
		}
	}()
	summary.Renderer = source.Name()

	var collector *styles.Collector
	if opts.ConsolidateCSS {
		collector = styles.NewCollector()
	}

	m := newMirror(opts, origin, mapper, source, rewrite.New(gate),
		assets.New(fetch, mapper, st, failures, opts.Logger), collector, st, failures)

	opts.Logger.WithFields(logrus.Fields{
		"url":      summary.Origin,
		"output":   mapper.Root,
		"renderer": source.Name(),
	}).Info("starting mirror")

	m.run(ctx)

	if collector != nil {
		target := mapper.Abs(styles.Path)
		written, flushErr := collector.Flush(target)
		switch {
		case flushErr != nil:
			failures.Record(target, fmt.Errorf("%w: %w", ErrIO, flushErr))
			opts.Logger.WithError(flushErr).Error("failed to write consolidated stylesheet")
		case written:
			summary.StylesheetPath = target
			opts.Logger.WithField("path", target).Info("consolidated stylesheet saved")
		}
	}

	summary.Elapsed = st.Elapsed()
	summary.Bytes = st.Bytes()
	summary.Pages = m.pages.Load()
	summary.Assets = st.Files()
	summary.Failures = failures.List()

	opts.Logger.WithFields(logrus.Fields{
		"pages":         summary.Pages,
		"assets":        summary.Assets,
		"failures":      failures.Len(),
		"bytes_per_sec": int64(st.Throughput()),
		"elapsed":       summary.Elapsed.Round(time.Millisecond).String(),
	}).Info("mirror finished")

	if ctxErr := ctx.Err(); ctxErr != nil {
		summary.Interrupted = true

		return summary, ctxErr
	}

	return summary, nil
}

func withDefaults(opts Options) Options {
	if opts.Clock == nil {
		opts.Clock = limiter.NewClock()
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxConcurrentFetch < 1 {
		opts.MaxConcurrentFetch = opts.Workers
	}
	if opts.AssetWorkers < 1 {
		opts.AssetWorkers = 1
	}
	if opts.Depth < 0 {
		opts.Depth = 0
	}

	return opts
}

// WriteTo prints the human-readable end-of-run report.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	elapsed := int64(s.Elapsed.Seconds())
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "Download complete:")
	fmt.Fprintf(&buf, "Website at domain: %s\n", s.Domain)
	fmt.Fprintf(&buf, "Local copy downloaded to: %s\n", s.OutputDir)
	fmt.Fprintf(&buf, "Total download time: %d mins %d secs\n", elapsed/60, elapsed%60)
	fmt.Fprintf(&buf, "Total download size: %.2f MB\n", float64(s.Bytes)/(1024*1024))
	fmt.Fprintf(&buf, "Pages saved: %d, assets saved: %d\n", s.Pages, s.Assets)

	if s.StylesheetPath != "" {
		fmt.Fprintf(&buf, "Consolidated CSS file: %s\n", s.StylesheetPath)
	}

	if len(s.Failures) > 0 {
		fmt.Fprintln(&buf)
		fmt.Fprintln(&buf, "Failed URLs:")
		for _, failure := range s.Failures {
			fmt.Fprintf(&buf, "%s: %s\n", failure.URL, failure.Error)
		}
	}

	return buf.WriteTo(w)
}
