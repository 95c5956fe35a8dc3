package render

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"sitemirror/internal/fetcher"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return fn(req) }

type noSleep struct{}

func (noSleep) Now() time.Time { return time.Unix(0, 0) }

func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

func newHTTPSource(rt roundTripFunc) *HTTPSource {
	return NewHTTP(fetcher.New(&http.Client{Transport: rt}, time.Second, "test-agent", nil, 0, 0, noSleep{}))
}

func respond(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	t.Parallel()

	source := newHTTPSource(respond(http.StatusOK, "<html><body>hi</body></html>"))

	markup, err := source.Fetch(context.Background(), "http://example.com/")
	require.NoError(t, err)
	require.Equal(t, "<html><body>hi</body></html>", markup)
	require.Equal(t, "http", source.Name())
	require.NoError(t, source.Close())
}

func TestHTTPSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rt   roundTripFunc
		want string
	}{
		{name: "not found", rt: respond(http.StatusNotFound, "missing"), want: "Not Found"},
		{name: "server error", rt: respond(http.StatusInternalServerError, "boom"), want: "Internal Server Error"},
		{
			name: "transport",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection reset")
			},
			want: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := newHTTPSource(tt.rt).Fetch(context.Background(), "http://example.com/")
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestOpenWithoutRendering(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	plain := newHTTPSource(respond(http.StatusOK, ""))

	source := Open(context.Background(), Options{}, plain, logger)
	require.Same(t, plain, source)
	require.Empty(t, hook.AllEntries())
}

func TestOpenFallsBackWhenBrowserMissing(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	plain := newHTTPSource(respond(http.StatusOK, ""))

	opts := Options{
		Enabled:  true,
		ExecPath: filepath.Join(t.TempDir(), "no-such-chrome"),
		Timeout:  5 * time.Second,
	}

	source := Open(context.Background(), opts, plain, logger)
	require.Same(t, plain, source)

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	require.Equal(t, logrus.WarnLevel, entries[0].Level)
	require.ErrorIs(t, entries[0].Data[logrus.ErrorKey].(error), ErrRenderInit)
}

func TestNewChromeReportsInitError(t *testing.T) {
	t.Parallel()

	_, err := NewChrome(context.Background(), Options{ExecPath: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, ErrRenderInit)
}
