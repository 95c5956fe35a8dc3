package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"sitemirror/internal/cache"
	"sitemirror/internal/fetcher"
	"sitemirror/internal/pathmap"
	"sitemirror/internal/stats"
)

const chunkSize = 32 * 1024

// ErrDuplicate is returned when the URL was already claimed by an earlier download.
var ErrDuplicate = errors.New("asset already scheduled")

// Result describes a finished download.
type Result struct {
	URL         string
	Local       string
	ContentType string
	Bytes       int64
}

// Downloader streams same-crawl assets to disk. Each URL is fetched at most once.
type Downloader struct {
	fetch    *fetcher.Fetcher
	mapper   pathmap.Mapper
	stats    *stats.Stats
	failures *stats.Failures
	claimed  *cache.Cache[string]
	logger   logrus.FieldLogger
}

// New returns a Downloader writing under mapper.Root.
func New(
	fetch *fetcher.Fetcher,
	mapper pathmap.Mapper,
	st *stats.Stats,
	failures *stats.Failures,
	logger logrus.FieldLogger,
) *Downloader {
	return &Downloader{
		fetch:    fetch,
		mapper:   mapper,
		stats:    st,
		failures: failures,
		claimed:  cache.New[string](),
		logger:   logger,
	}
}

// Download fetches rawURL into the LocalPath local. The extension is already
// part of local. Failures are recorded in the FailureLog and returned.
// A failed download leaves any earlier file at local untouched.
func (d *Downloader) Download(ctx context.Context, rawURL string, local string) (Result, error) {
	log := d.logger.WithFields(logrus.Fields{"url": rawURL, "path": local})

	if previous, claimed := d.claimed.Claim(rawURL, local); !claimed {
		log.WithField("first_path", previous).Debug("asset already handled")

		return Result{URL: rawURL, Local: previous}, ErrDuplicate
	}

	result, err := d.download(ctx, rawURL, local)
	if err != nil {
		if ctx.Err() != nil {
			log.WithError(err).Debug("asset download interrupted")

			return result, err
		}

		if d.failures.Record(rawURL, err) {
			log.WithError(err).Error("failed to download asset")
		}

		return result, err
	}

	d.stats.FileDone()
	log.WithFields(logrus.Fields{
		"bytes":        result.Bytes,
		"content_type": result.ContentType,
	}).Debug("asset saved")

	return result, nil
}

func (d *Downloader) download(ctx context.Context, rawURL string, local string) (Result, error) {
	result := Result{URL: rawURL, Local: local}

	resp, err := d.fetch.Open(ctx, rawURL)
	if err != nil {
		return result, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	result.ContentType = resp.ContentType()
	if ext, ok := pathmap.ExtensionForType(result.ContentType); ok && filepath.Ext(local) != ext {
		d.logger.WithFields(logrus.Fields{"url": rawURL, "content_type_ext": ext}).
			Debug("content type disagrees with stored extension")
	}

	target := d.mapper.Abs(local)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return result, fmt.Errorf("create directory: %w", err)
	}

	// Distinct URLs can share a LocalPath, so each download streams into its own
	// temp file and replaces the target only once complete.
	file, err := os.CreateTemp(filepath.Dir(target), ".asset-*")
	if err != nil {
		return result, fmt.Errorf("create file: %w", err)
	}
	tmpName := file.Name()

	written, copyErr := io.CopyBuffer(&countingWriter{w: file, stats: d.stats}, resp.Body, make([]byte, chunkSize))
	closeErr := file.Close()
	result.Bytes = written

	switch {
	case copyErr != nil:
		err = fmt.Errorf("write %s: %w", local, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close %s: %w", local, closeErr)
	default:
		if err = os.Chmod(tmpName, 0o644); err == nil {
			err = os.Rename(tmpName, target)
		}
		if err != nil {
			err = fmt.Errorf("replace %s: %w", local, err)
		}
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return result, err
	}

	return result, nil
}

// countingWriter adds every written chunk to the crawl statistics.
type countingWriter struct {
	w     io.Writer
	stats *stats.Stats
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.stats.Add(int64(n))

	return n, err
}
