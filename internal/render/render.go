package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"sitemirror/internal/fetcher"
)

const defaultPageTimeout = 60 * time.Second

// ErrRenderInit reports that the headless browser could not be started.
var ErrRenderInit = errors.New("renderer init failed")

// Source returns the markup of a page. Implementations are safe for concurrent use.
type Source interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
	Name() string
	Close() error
}

// Options selects and tunes the page source of a crawl.
type Options struct {
	// Enabled requests headless rendering.
	Enabled bool
	// ExecPath overrides the browser binary lookup.
	ExecPath string
	// Wait is how long a page may run scripts after navigation.
	Wait time.Duration
	// Timeout bounds one page render.
	Timeout time.Duration
	// UserAgent is sent by the browser when set.
	UserAgent string
	// Headful shows the browser window.
	Headful bool
}

// Open picks the page source once for the whole crawl. When rendering is
// requested but the browser cannot start, the plain source is returned and the
// degradation is logged once.
func Open(ctx context.Context, opts Options, plain Source, logger logrus.FieldLogger) Source {
	if !opts.Enabled {
		return plain
	}

	chrome, err := NewChrome(ctx, opts)
	if err != nil {
		logger.WithError(err).Warn("headless rendering unavailable, using plain http for this crawl")

		return plain
	}

	logger.Debug("headless browser started")

	return chrome
}

// HTTPSource retrieves raw markup over HTTP.
type HTTPSource struct {
	fetch *fetcher.Fetcher
}

// NewHTTP wraps fetch as a page source.
func NewHTTP(fetch *fetcher.Fetcher) *HTTPSource {
	return &HTTPSource{fetch: fetch}
}

func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (string, error) {
	result, err := s.fetch.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("unexpected status: %d %s", result.StatusCode, http.StatusText(result.StatusCode))
	}

	return string(result.Body), nil
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Close() error { return nil }

// ChromeSource renders pages in one shared headless browser, one tab per page.
type ChromeSource struct {
	opts          Options
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	closeOnce     sync.Once
}

// NewChrome launches the browser. The returned source must be closed.
func NewChrome(ctx context.Context, opts Options) (*ChromeSource, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPageTimeout
	}

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", !opts.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if path := strings.TrimSpace(opts.ExecPath); path != "" {
		execOpts = append(execOpts, chromedp.ExecPath(path))
	}
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, execOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Running without actions starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()

		return nil, fmt.Errorf("%w: %w", ErrRenderInit, err)
	}

	return &ChromeSource{
		opts:          opts,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

func (s *ChromeSource) Fetch(ctx context.Context, rawURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.opts.Timeout)
	defer cancelTimeout()

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if s.opts.Wait > 0 {
		actions = append(actions, chromedp.Sleep(s.opts.Wait))
	}

	var markup string
	actions = append(actions, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}

	return markup, nil
}

func (s *ChromeSource) Name() string { return "chrome" }

// Close shuts the browser down. Later calls are no-ops.
func (s *ChromeSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancelBrowser()
		s.cancelAlloc()
	})

	return nil
}
