package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"sitemirror/crawler"
	"sitemirror/internal/config"
	"sitemirror/internal/limiter"
	"sitemirror/internal/render"
	"sitemirror/internal/urlutil"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitInterrupted = 130
)

// ErrInvalidTarget is returned for input that is neither an http(s) URL nor a domain name.
var ErrInvalidTarget = errors.New("invalid URL or domain name")

// Run executes the CLI. The summary goes to stdout and logs to stderr.
// If no URL is given on the command line or in the config file, it prints help and returns nil.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, client *http.Client, clock limiter.Timer) error {
	app := cli.NewApp()
	app.Name = "sitemirror"
	app.Usage = "mirror a website into a local directory"
	app.UsageText = "sitemirror [global options] <url or domain>"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = flags()
	app.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		if cfg.URL == "" {
			_ = cli.ShowAppHelp(c)

			return nil
		}

		if !urlutil.ValidTarget(cfg.URL) {
			fmt.Fprintln(stdout, "Invalid URL or domain name. Please enter a valid URL or domain.")

			return fmt.Errorf("%w: %q", ErrInvalidTarget, cfg.URL)
		}

		logger, err := newLogger(stderr, cfg.Logging.Level)
		if err != nil {
			return err
		}

		fmt.Fprintln(stdout, "Website Mirror")
		fmt.Fprintln(stdout, strings.Repeat("-", 50))

		summary, mirrorErr := crawler.Mirror(ctx, optionsFromConfig(cfg, client, clock, logger))

		if mirrorErr == nil || summary.Interrupted {
			if _, err := summary.WriteTo(stdout); err != nil {
				return err
			}
		}

		if mirrorErr != nil && summary.Interrupted {
			fmt.Fprintln(stdout, "\nDownload interrupted by user.")
		}

		return mirrorErr
	}

	return app.Run(args)
}

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitError
	}
}

func flags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML config file; flags override its values"},
		cli.StringFlag{Name: "output, o", Usage: "root directory for mirrored sites", Value: defaults.Output},
		cli.BoolFlag{Name: "consolidate-css", Usage: "move inline and embedded styles into one stylesheet"},
		cli.IntFlag{Name: "workers", Usage: "number of concurrent page workers", Value: defaults.Crawl.Workers},
		cli.IntFlag{Name: "max-fetches", Usage: "maximum concurrent network requests", Value: defaults.Crawl.MaxFetches},
		cli.IntFlag{Name: "asset-workers", Usage: "concurrent asset downloads per page", Value: defaults.Crawl.AssetWorkers},
		cli.IntFlag{Name: "depth", Usage: "maximum link depth from the start page (0 = unlimited)"},
		cli.IntFlag{Name: "retries", Usage: "retries for temporary failures"},
		cli.DurationFlag{Name: "delay", Usage: "delay between requests (example: 200ms, 1s)"},
		cli.Float64Flag{Name: "rps", Usage: "limit requests per second"},
		cli.DurationFlag{Name: "timeout", Usage: "per-request timeout", Value: defaults.Crawl.Timeout.Duration},
		cli.StringFlag{Name: "user-agent", Usage: "custom user agent", Value: defaults.Crawl.UserAgent},
		cli.BoolFlag{Name: "ignore-robots", Usage: "do not consult robots.txt"},
		cli.StringSliceFlag{Name: "cdn-host", Usage: "extra CDN host whose references stay absolute (repeatable)"},
		cli.BoolFlag{Name: "render", Usage: "render pages in headless Chrome before saving"},
		cli.StringFlag{Name: "chrome-path", Usage: "path to the Chrome or Chromium binary"},
		cli.DurationFlag{Name: "render-wait", Usage: "time to let scripts run after navigation", Value: defaults.Rendering.Wait.Duration},
		cli.DurationFlag{Name: "render-timeout", Usage: "per-page render timeout", Value: defaults.Rendering.Timeout.Duration},
		cli.StringFlag{Name: "log-level", Usage: "panic, fatal, error, warn, info, debug or trace", Value: defaults.Logging.Level},
	}
}

// loadConfig starts from the config file (or defaults) and applies flags the user set.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}

	if arg := c.Args().First(); arg != "" {
		cfg.URL = arg
	}

	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("consolidate-css") {
		cfg.ConsolidateCSS = c.Bool("consolidate-css")
	}
	if c.IsSet("workers") {
		cfg.Crawl.Workers = c.Int("workers")
	}
	if c.IsSet("max-fetches") {
		cfg.Crawl.MaxFetches = c.Int("max-fetches")
	}
	if c.IsSet("asset-workers") {
		cfg.Crawl.AssetWorkers = c.Int("asset-workers")
	}
	if c.IsSet("depth") {
		cfg.Crawl.Depth = c.Int("depth")
	}
	if c.IsSet("retries") {
		cfg.Crawl.Retries = c.Int("retries")
	}
	if c.IsSet("delay") {
		cfg.Crawl.Delay = config.DurationFrom(c.Duration("delay"))
	}
	if c.IsSet("rps") {
		cfg.Crawl.RPS = c.Float64("rps")
	}
	if c.IsSet("timeout") {
		cfg.Crawl.Timeout = config.DurationFrom(c.Duration("timeout"))
	}
	if c.IsSet("user-agent") {
		cfg.Crawl.UserAgent = c.String("user-agent")
	}
	if c.IsSet("ignore-robots") {
		cfg.Crawl.IgnoreRobots = c.Bool("ignore-robots")
	}
	if c.IsSet("cdn-host") {
		cfg.Crawl.CDNHosts = append(cfg.Crawl.CDNHosts, c.StringSlice("cdn-host")...)
	}
	if c.IsSet("render") {
		cfg.Rendering.Enabled = c.Bool("render")
	}
	if c.IsSet("chrome-path") {
		cfg.Rendering.ExecPath = c.String("chrome-path")
	}
	if c.IsSet("render-wait") {
		cfg.Rendering.Wait = config.DurationFrom(c.Duration("render-wait"))
	}
	if c.IsSet("render-timeout") {
		cfg.Rendering.Timeout = config.DurationFrom(c.Duration("render-timeout"))
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func newLogger(out io.Writer, level string) (*logrus.Logger, error) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return logger, nil
}

func optionsFromConfig(
	cfg config.Config,
	client *http.Client,
	clock limiter.Timer,
	logger logrus.FieldLogger,
) crawler.Options {
	return crawler.Options{
		URL:                cfg.URL,
		OutputDir:          cfg.Output,
		ConsolidateCSS:     cfg.ConsolidateCSS,
		Depth:              cfg.Crawl.Depth,
		Workers:            cfg.Crawl.Workers,
		MaxConcurrentFetch: cfg.Crawl.MaxFetches,
		AssetWorkers:       cfg.Crawl.AssetWorkers,
		Retries:            cfg.Crawl.Retries,
		Delay:              cfg.Crawl.Delay.Duration,
		RPS:                cfg.Crawl.RPS,
		Timeout:            cfg.Crawl.Timeout.Duration,
		UserAgent:          cfg.Crawl.UserAgent,
		IgnoreRobots:       cfg.Crawl.IgnoreRobots,
		CDNHosts:           cfg.Crawl.CDNHosts,
		Render: render.Options{
			Enabled:  cfg.Rendering.Enabled,
			ExecPath: cfg.Rendering.ExecPath,
			Wait:     cfg.Rendering.Wait.Duration,
			Timeout:  cfg.Rendering.Timeout.Duration,
			Headful:  cfg.Rendering.Headful,
		},
		HTTPClient: client,
		Clock:      clock,
		Logger:     logger,
	}
}
