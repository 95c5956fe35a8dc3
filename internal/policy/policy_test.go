package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sitemirror/internal/robots"
	"sitemirror/internal/urlutil"
)

func newGate(t *testing.T, raw string, robotsTxt string, extraCDN ...string) *Gate {
	t.Helper()

	origin, err := urlutil.ParseOrigin(raw)
	require.NoError(t, err)

	rules := robots.AllowAll()
	if robotsTxt != "" {
		rules, err = robots.Parse([]byte(robotsTxt))
		require.NoError(t, err)
	}

	return New(origin, rules, extraCDN...)
}

func TestSameDomain(t *testing.T) {
	t.Parallel()

	require.True(t, newGate(t, "example.com", "").SameDomain("http://www.example.com/a"))
	require.True(t, newGate(t, "https://www.Example.com", "").SameDomain("http://example.com/a"))
	require.False(t, newGate(t, "other.com", "").SameDomain("http://www.example.com/a"))
	require.False(t, newGate(t, "example.com", "").SameDomain("http://sub.example.com/a"))
}

func TestIsCDN(t *testing.T) {
	t.Parallel()

	gate := newGate(t, "example.com", "", "static.example.net")

	require.True(t, gate.IsCDN("https://cdnjs.cloudflare.com/x.js"))
	require.True(t, gate.IsCDN("https://UNPKG.com/react"))
	require.True(t, gate.IsCDN("https://static.example.net/app.css"))
	require.False(t, gate.IsCDN("https://evil.cdnjs.cloudflare.com.attacker.io/x.js"))
	require.False(t, gate.IsCDN("http://example.com/x.js"))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	gate := newGate(t, "example.com", "User-agent: *\nDisallow: /private\n")

	tests := []struct {
		name     string
		url      string
		isAnchor bool
		want     Action
	}{
		{name: "same origin page", url: "http://example.com/about", isAnchor: true, want: Enqueue},
		{name: "same origin www page", url: "http://www.example.com/about", isAnchor: true, want: Enqueue},
		{name: "robots disallowed page", url: "http://example.com/private/x", isAnchor: true, want: Blocked},
		{name: "robots ignored for assets", url: "http://example.com/private/logo.png", want: Download},
		{name: "same origin asset", url: "http://example.com/img/a.png", want: Download},
		{name: "off origin page", url: "http://other.com/", isAnchor: true, want: Keep},
		{name: "cdn anchor", url: "https://cdnjs.cloudflare.com/", isAnchor: true, want: Keep},
		{name: "cdn asset", url: "https://cdnjs.cloudflare.com/x.js", want: Keep},
		{name: "off origin asset", url: "https://images.other.com/a.png", want: Download},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := gate.Classify(tt.url, tt.isAnchor)
			require.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestAllowedWithoutRules(t *testing.T) {
	t.Parallel()

	origin, err := urlutil.ParseOrigin("example.com")
	require.NoError(t, err)

	require.True(t, New(origin, nil).Allowed("http://example.com/private"))
}

func TestOnOrigin(t *testing.T) {
	t.Parallel()

	gate := newGate(t, "https://example.com", "")

	require.Equal(t, "https://example.com/a?b=1", gate.OnOrigin("http://www.example.com/a?b=1"))
	require.Equal(t, "https://example.com/a%20b", gate.OnOrigin("http://EXAMPLE.com/a%20b"))
	require.Equal(t, "https://other.com/x", gate.OnOrigin("https://other.com/x"))
}
