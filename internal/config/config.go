package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent identifies the mirror to servers.
const DefaultUserAgent = "sitemirror/1.0"

// Config is the file form of a mirror run. Every field has a CLI flag that overrides it.
type Config struct {
	URL            string          `yaml:"url"`
	Output         string          `yaml:"output"`
	ConsolidateCSS bool            `yaml:"consolidate_css"`
	Crawl          CrawlConfig     `yaml:"crawl"`
	Rendering      RenderingConfig `yaml:"rendering"`
	Logging        LoggingConfig   `yaml:"logging"`
}

type CrawlConfig struct {
	Workers      int      `yaml:"workers"`
	MaxFetches   int      `yaml:"max_concurrent_fetches"`
	AssetWorkers int      `yaml:"asset_workers"`
	Depth        int      `yaml:"depth"`
	UserAgent    string   `yaml:"user_agent"`
	Timeout      Duration `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	Delay        Duration `yaml:"delay"`
	RPS          float64  `yaml:"rps"`
	IgnoreRobots bool     `yaml:"ignore_robots"`
	CDNHosts     []string `yaml:"cdn_hosts"`
}

type RenderingConfig struct {
	Enabled  bool     `yaml:"enabled"`
	ExecPath string   `yaml:"exec_path"`
	Wait     Duration `yaml:"wait"`
	Timeout  Duration `yaml:"timeout"`
	Headful  bool     `yaml:"headful"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used when neither a file nor flags say otherwise.
func Default() Config {
	return Config{
		Output: "output",
		Crawl: CrawlConfig{
			Workers:      4,
			MaxFetches:   8,
			AssetWorkers: 4,
			UserAgent:    DefaultUserAgent,
			Timeout:      DurationFrom(30 * time.Second),
			CDNHosts:     []string{},
		},
		Rendering: RenderingConfig{
			Wait:    DurationFrom(500 * time.Millisecond),
			Timeout: DurationFrom(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	return LoadFromReader(fh)
}

// LoadFromReader decodes YAML from r on top of Default. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks ranges. The URL is checked by the caller once flags are merged.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return errors.New("output must be set")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0 (got %d)", c.Crawl.Workers)
	}
	if c.Crawl.MaxFetches <= 0 {
		return fmt.Errorf("crawl.max_concurrent_fetches must be > 0 (got %d)", c.Crawl.MaxFetches)
	}
	if c.Crawl.AssetWorkers <= 0 {
		return fmt.Errorf("crawl.asset_workers must be > 0 (got %d)", c.Crawl.AssetWorkers)
	}
	if c.Crawl.Depth < 0 {
		return fmt.Errorf("crawl.depth must be >= 0 (got %d)", c.Crawl.Depth)
	}
	if c.Crawl.Retries < 0 {
		return fmt.Errorf("crawl.retries must be >= 0 (got %d)", c.Crawl.Retries)
	}
	if c.Crawl.Delay.Duration < 0 {
		return fmt.Errorf("crawl.delay must be >= 0 (got %s)", c.Crawl.Delay)
	}
	if c.Crawl.RPS < 0 {
		return fmt.Errorf("crawl.rps must be >= 0 (got %v)", c.Crawl.RPS)
	}
	if c.Crawl.Timeout.Duration <= 0 {
		return fmt.Errorf("crawl.timeout must be > 0 (got %s)", c.Crawl.Timeout)
	}
	if c.Crawl.UserAgent == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Rendering.Wait.Duration < 0 {
		return fmt.Errorf("rendering.wait must be >= 0 (got %s)", c.Rendering.Wait)
	}
	if c.Rendering.Timeout.Duration <= 0 {
		return fmt.Errorf("rendering.timeout must be > 0 (got %s)", c.Rendering.Timeout)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// Normalise trims text fields and lowercases and dedupes CDN hosts.
func (c *Config) Normalise() {
	c.URL = strings.TrimSpace(c.URL)
	c.Output = strings.TrimSpace(c.Output)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Rendering.ExecPath = strings.TrimSpace(c.Rendering.ExecPath)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Crawl.CDNHosts = dedupeLower(c.Crawl.CDNHosts)
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}

	return cleaned
}
