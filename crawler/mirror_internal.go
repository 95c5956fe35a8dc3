package crawler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"sitemirror/internal/assets"
	"sitemirror/internal/parser"
	"sitemirror/internal/pathmap"
	"sitemirror/internal/render"
	"sitemirror/internal/rewrite"
	"sitemirror/internal/stats"
	"sitemirror/internal/styles"
	"sitemirror/internal/urlutil"
)

type crawlJob struct {
	url   string
	depth int
}

type pageResult struct {
	job   crawlJob
	links []string
}

type mirror struct {
	options   Options
	origin    urlutil.Origin
	mapper    pathmap.Mapper
	source    render.Source
	rewriter  *rewrite.Rewriter
	downloads *assets.Downloader
	collector *styles.Collector
	stats     *stats.Stats
	failures  *stats.Failures
	fetchSem  *semaphore.Weighted
	pages     atomic.Int64
}

// aggregator is the only owner of the visited set. A URL is marked when it is
// admitted to the queue, so it is dispatched at most once.
type aggregator struct {
	seen     map[string]bool
	queue    []crawlJob
	inFlight int
	maxDepth int
}

func newMirror(
	options Options,
	origin urlutil.Origin,
	mapper pathmap.Mapper,
	source render.Source,
	rewriter *rewrite.Rewriter,
	downloads *assets.Downloader,
	collector *styles.Collector,
	st *stats.Stats,
	failures *stats.Failures,
) *mirror {
	return &mirror{
		options:   options,
		origin:    origin,
		mapper:    mapper,
		source:    source,
		rewriter:  rewriter,
		downloads: downloads,
		collector: collector,
		stats:     st,
		failures:  failures,
		fetchSem:  semaphore.NewWeighted(int64(options.MaxConcurrentFetch)),
	}
}

// run drives the worker pool until the frontier is exhausted or ctx is done.
// It returns only after every worker has stopped.
func (m *mirror) run(ctx context.Context) {
	workerCount := m.options.Workers

	jobs := make(chan crawlJob)
	results := make(chan pageResult, workerCount)

	var workersWG sync.WaitGroup
	for id := range workerCount {
		workersWG.Add(1)

		go func() {
			defer workersWG.Done()
			m.worker(ctx, id, jobs, results)
		}()
	}

	agg := &aggregator{
		seen:     map[string]bool{},
		maxDepth: m.options.Depth,
	}
	agg.admit(crawlJob{url: m.origin.String()})

	m.dispatch(ctx, agg, jobs, results)

	close(jobs)
	workersWG.Wait()
}

func (m *mirror) dispatch(ctx context.Context, agg *aggregator, jobs chan<- crawlJob, results <-chan pageResult) {
	for len(agg.queue) > 0 || agg.inFlight > 0 {
		var (
			send chan<- crawlJob
			next crawlJob
		)
		if len(agg.queue) > 0 {
			send = jobs
			next = agg.queue[0]
		}

		select {
		case send <- next:
			agg.queue = agg.queue[1:]
			agg.inFlight++
		case result := <-results:
			agg.inFlight--
			agg.onResult(result)
		case <-ctx.Done():
			for agg.inFlight > 0 {
				<-results
				agg.inFlight--
			}

			return
		}
	}
}

func (a *aggregator) admit(job crawlJob) {
	if a.seen[job.url] {
		return
	}

	a.seen[job.url] = true
	a.queue = append(a.queue, job)
}

func (a *aggregator) onResult(result pageResult) {
	nextDepth := result.job.depth + 1
	if a.maxDepth > 0 && nextDepth > a.maxDepth {
		return
	}

	for _, link := range result.links {
		a.admit(crawlJob{url: link, depth: nextDepth})
	}
}

func (m *mirror) worker(ctx context.Context, id int, jobs <-chan crawlJob, results chan<- pageResult) {
	for job := range jobs {
		log := m.options.Logger.WithFields(logrus.Fields{"url": job.url, "worker": id})
		results <- pageResult{job: job, links: m.processPage(ctx, job, log)}
	}
}

// processPage fetches, rewrites and stores one page, then mirrors its assets.
// It returns the same-origin pages the page links to.
func (m *mirror) processPage(ctx context.Context, job crawlJob, log logrus.FieldLogger) []string {
	if ctx.Err() != nil {
		return nil
	}

	log.Info("downloading page")

	markup, err := m.fetchPage(ctx, job.url)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(log, job.url, fmt.Errorf("%w: %w", ErrFetch, err))
		}

		return nil
	}

	local, err := m.mapper.Map(job.url, "")
	if err != nil {
		m.fail(log, job.url, fmt.Errorf("%w: %w", ErrParse, err))

		return nil
	}

	doc, err := parser.ParseString(markup)
	if err != nil {
		m.fail(log, job.url, fmt.Errorf("%w: %w", ErrParse, err))

		return nil
	}

	rewritten, err := m.transform(doc, job.url, local, log)
	if err != nil {
		m.fail(log, job.url, fmt.Errorf("%w: %w", ErrParse, err))

		return nil
	}

	out, err := parser.Render(doc)
	if err != nil {
		m.fail(log, job.url, fmt.Errorf("%w: %w", ErrParse, err))

		return nil
	}

	if err := writeFile(m.mapper.Abs(local), []byte(out)); err != nil {
		m.fail(log, job.url, fmt.Errorf("%w: %w", ErrIO, err))

		return nil
	}

	m.stats.Add(int64(len(markup)))
	m.pages.Add(1)
	log.WithFields(logrus.Fields{"path": local, "title": parser.Title(doc)}).Info("page saved")

	m.downloadAssets(ctx, rewritten.Assets)

	return rewritten.Pages
}

func (m *mirror) fetchPage(ctx context.Context, rawURL string) (string, error) {
	if err := m.fetchSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.fetchSem.Release(1)

	return m.source.Fetch(ctx, rawURL)
}

// transform strips styles when consolidating, then rewrites links. The
// stylesheet link is injected after rewriting so it is never mirrored itself.
func (m *mirror) transform(doc *goquery.Document, pageURL string, local string, log logrus.FieldLogger) (rewrite.Result, error) {
	hadStyles := false
	if m.collector != nil {
		hadStyles = m.collector.Extract(doc)
	}

	result, err := m.rewriter.Rewrite(doc, pageURL, local)
	if err != nil {
		return result, err
	}

	for _, invalid := range result.Invalid {
		log.WithError(invalid).Warn("skipping malformed link")
	}

	if hadStyles {
		href := (&url.URL{Path: pathmap.Relative(local, styles.Path)}).String()
		styles.InjectLink(doc, href)
	}

	return result, nil
}

func (m *mirror) downloadAssets(ctx context.Context, list []rewrite.Asset) {
	var group errgroup.Group
	group.SetLimit(m.options.AssetWorkers)

	for _, asset := range list {
		if ctx.Err() != nil {
			break
		}

		group.Go(func() error {
			if err := m.fetchSem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer m.fetchSem.Release(1)

			// Failures are recorded by the downloader and never fail the page.
			_, _ = m.downloads.Download(ctx, asset.URL, asset.Local)

			return nil
		})
	}

	_ = group.Wait()
}

func (m *mirror) fail(log logrus.FieldLogger, rawURL string, err error) {
	if m.failures.Record(rawURL, err) {
		log.WithError(err).Error("failed to process page")
	}
}

// writeFile replaces target atomically so pages that map to the same path
// never interleave.
func writeFile(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".page-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write %s: %w", target, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close %s: %w", target, err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("chmod %s: %w", target, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("rename %s: %w", target, err)
	}

	return nil
}
