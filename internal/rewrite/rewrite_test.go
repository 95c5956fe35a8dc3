package rewrite

import (
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"sitemirror/internal/parser"
	"sitemirror/internal/policy"
	"sitemirror/internal/robots"
	"sitemirror/internal/urlutil"
)

func newRewriter(t *testing.T, robotsTxt string) *Rewriter {
	t.Helper()

	origin, err := urlutil.ParseOrigin("http://example.com")
	require.NoError(t, err)

	rules := robots.AllowAll()
	if robotsTxt != "" {
		rules, err = robots.Parse([]byte(robotsTxt))
		require.NoError(t, err)
	}

	return New(policy.New(origin, rules))
}

func parse(t *testing.T, markup string) *goquery.Document {
	t.Helper()

	doc, err := parser.ParseString(markup)
	require.NoError(t, err)

	return doc
}

func attr(t *testing.T, doc *goquery.Document, selector string, name string) string {
	t.Helper()

	sel := doc.Find(selector)
	require.Equal(t, 1, sel.Length(), selector)

	value, ok := sel.Attr(name)
	require.True(t, ok)

	return value
}

func TestRewriteDecisionTable(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><head>`+
		`<link id="css" rel="stylesheet" href="/static/site.css">`+
		`<script id="cdn" src="https://cdnjs.cloudflare.com/x.js"></script>`+
		`<script id="ext" src="https://assets.other.com/lib/app.js"></script>`+
		`</head><body>`+
		`<a id="page" href="/docs/intro">intro</a>`+
		`<a id="www" href="http://www.example.com/about/">about</a>`+
		`<a id="off" href="https://other.com/page">other</a>`+
		`<a id="mail" href="mailto:me@example.com">mail</a>`+
		`<img id="img" src="../img/logo.png">`+
		`</body></html>`)

	result, err := newRewriter(t, "").Rewrite(doc, "http://example.com/blog/post", "blog/post.html")
	require.NoError(t, err)

	require.Equal(t, []string{"http://example.com/docs/intro", "http://example.com/about/"}, result.Pages)
	require.Equal(t, []Asset{
		{URL: "http://example.com/img/logo.png", Local: "img/logo.png"},
		{URL: "http://example.com/static/site.css", Local: "static/site.css"},
		{URL: "https://assets.other.com/lib/app.js", Local: "lib/app.js"},
	}, result.Assets)
	require.Empty(t, result.Invalid)

	require.Equal(t, "../docs/intro.html", attr(t, doc, "#page", "href"))
	require.Equal(t, "../about/index.html", attr(t, doc, "#www", "href"))
	require.Equal(t, "https://other.com/page", attr(t, doc, "#off", "href"))
	require.Equal(t, "mailto:me@example.com", attr(t, doc, "#mail", "href"))
	require.Equal(t, "../img/logo.png", attr(t, doc, "#img", "src"))
	require.Equal(t, "../static/site.css", attr(t, doc, "#css", "href"))
	require.Equal(t, "https://cdnjs.cloudflare.com/x.js", attr(t, doc, "#cdn", "src"))
	require.Equal(t, "../lib/app.js", attr(t, doc, "#ext", "src"))
}

func TestRewritePreservesCDN(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<script src="https://cdnjs.cloudflare.com/x.js"></script>`)

	result, err := newRewriter(t, "").Rewrite(doc, "http://example.com", "index.html")
	require.NoError(t, err)
	require.Empty(t, result.Assets)
	require.Empty(t, result.Pages)
	require.Equal(t, "https://cdnjs.cloudflare.com/x.js", attr(t, doc, "script", "src"))
}

func TestRewriteKeepsFragmentsAndDeduplicates(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<a id="one" href="/guide#install">a</a><a id="two" href="/guide">b</a><a id="self" href="#top">c</a>`)

	result, err := newRewriter(t, "").Rewrite(doc, "http://example.com/", "index.html")
	require.NoError(t, err)

	require.Equal(t, []string{"http://example.com/guide"}, result.Pages)
	require.Equal(t, "guide.html#install", attr(t, doc, "#one", "href"))
	require.Equal(t, "guide.html", attr(t, doc, "#two", "href"))
	require.Equal(t, "#top", attr(t, doc, "#self", "href"))
}

func TestRewriteRobotsBlockedPage(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<a href="/private/area">p</a><img src="/private/pic.png">`)

	result, err := newRewriter(t, "User-agent: *\nDisallow: /private\n").Rewrite(doc, "http://example.com/", "index.html")
	require.NoError(t, err)

	require.Empty(t, result.Pages)
	require.Equal(t, []Asset{{URL: "http://example.com/private/pic.png", Local: "private/pic.png"}}, result.Assets)
	require.Equal(t, "private/area.html", attr(t, doc, "a", "href"))
	require.Equal(t, "private/pic.png", attr(t, doc, "img", "src"))
}

func TestRewriteEscapesLocalLinks(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<a href="/my%20docs/a%3Fb">x</a>`)

	result, err := newRewriter(t, "").Rewrite(doc, "http://example.com/", "index.html")
	require.NoError(t, err)

	require.Equal(t, []string{"http://example.com/my%20docs/a%3Fb"}, result.Pages)
	require.Equal(t, "my%20docs/a%3Fb.html", attr(t, doc, "a", "href"))
}

func TestRewriteReportsInvalidReferences(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<a href="http://[::1">bad</a><a href="/ok">ok</a>`)

	result, err := newRewriter(t, "").Rewrite(doc, "http://example.com/", "index.html")
	require.NoError(t, err)

	require.Len(t, result.Invalid, 1)
	require.Equal(t, []string{"http://example.com/ok"}, result.Pages)
	bad, _ := doc.Find("a").First().Attr("href")
	require.Equal(t, "http://[::1", bad)
}

func TestRewriteInvalidPageURL(t *testing.T) {
	t.Parallel()

	_, err := newRewriter(t, "").Rewrite(parse(t, "<p></p>"), "http://[::1", "index.html")
	require.Error(t, err)
}
