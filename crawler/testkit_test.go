package crawler_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const fixtureBaseURL = "http://example.com"

var fixtureTime = time.Date(2024, time.June, 1, 12, 34, 56, 0, time.UTC)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return fn(req) }

type route func(*http.Request) (*http.Response, error)

// fixtureSite serves routes keyed by "host/path" and counts requests per key.
type fixtureSite struct {
	mu     sync.Mutex
	routes map[string]route
	hits   map[string]int
}

func newFixtureSite(routes map[string]route) *fixtureSite {
	return &fixtureSite{routes: routes, hits: map[string]int{}}
}

func (s *fixtureSite) client() *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			key := strings.TrimPrefix(strings.ToLower(req.URL.Host), "www.") + req.URL.EscapedPath()

			s.mu.Lock()
			s.hits[key]++
			handler, ok := s.routes[key]
			s.mu.Unlock()

			if !ok {
				return responseWithBody(http.StatusNotFound, []byte("not found"), nil), nil
			}

			return handler(req)
		}),
	}
}

func (s *fixtureSite) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[key]
}

func readFixture(t *testing.T, parts ...string) []byte {
	t.Helper()

	path := filepath.Join(append([]string{"..", "testdata"}, parts...)...)
	b, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read fixture: %s", path)

	return b
}

func htmlRoute(body []byte) route {
	return func(*http.Request) (*http.Response, error) {
		return responseWithBody(http.StatusOK, body, http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}), nil
	}
}

func staticRoute(contentType string, body []byte) route {
	return func(*http.Request) (*http.Response, error) {
		return responseWithBody(http.StatusOK, body, http.Header{"Content-Type": []string{contentType}}), nil
	}
}

func statusRoute(status int) route {
	return func(*http.Request) (*http.Response, error) {
		return responseWithBody(status, []byte(http.StatusText(status)), nil), nil
	}
}

func responseWithBody(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Sleep(ctx context.Context, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

func readOutput(t *testing.T, root string, local string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(local)))
	require.NoError(t, err)

	return string(data)
}
