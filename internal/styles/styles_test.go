package styles

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"sitemirror/internal/parser"
)

func mustParse(t *testing.T, markup string) *goquery.Document {
	t.Helper()

	doc, err := parser.ParseString(markup)
	require.NoError(t, err)

	return doc
}

func TestExtractConsolidationRoundTrip(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><head><style>.a{color:red}</style></head>`+
		`<body><div id="x" style="color:blue">x</div></body></html>`)

	collector := NewCollector()
	require.True(t, collector.Extract(doc))
	InjectLink(doc, "css/styles.css")

	require.ElementsMatch(t, []string{".a{color:red}", "#x {color:blue}"}, collector.Rules())

	out, err := parser.Render(doc)
	require.NoError(t, err)
	require.NotContains(t, out, "<style>")
	require.NotContains(t, out, "style=")
	require.Contains(t, out, `<link rel="stylesheet" href="css/styles.css"/>`)
}

func TestExtractWithoutStyles(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body><p>plain</p></body></html>`)

	collector := NewCollector()
	require.False(t, collector.Extract(doc))
	require.Zero(t, collector.Len())
}

func TestCollectorDeduplicates(t *testing.T) {
	t.Parallel()

	collector := NewCollector()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			doc := mustParse(t, `<style>body{margin:0}</style><p class="lead big" style="font-weight:bold">x</p>`)
			collector.Extract(doc)
		})
	}
	wg.Wait()

	require.ElementsMatch(t, []string{"body{margin:0}", "p.lead.big {font-weight:bold}"}, collector.Rules())
}

func TestSelector(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body>`+
		`<div id="main" class="c">a</div>`+
		`<span class=" one  two ">b</span>`+
		`<ul><li>1</li><li>2</li><li>3</li></ul>`+
		`<section><p>only</p></section>`+
		`<section><p>first</p><em>e</em><p>second</p></section>`+
		`</body></html>`)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "id wins over class", query: "#main", want: "#main"},
		{name: "classes", query: "span", want: "span.one.two"},
		{name: "nth of type", query: "li:nth-child(2)", want: "html > body > ul > li:nth-of-type(2)"},
		{name: "only child of its tag", query: "section:first-of-type p", want: "html > body > section:nth-of-type(1) > p"},
		{name: "same tag with other siblings between", query: "section:last-of-type p:last-of-type", want: "html > body > section:nth-of-type(2) > p:nth-of-type(2)"},
		{name: "unique sibling tag", query: "em", want: "html > body > section:nth-of-type(2) > em"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sel := doc.Find(tt.query)
			require.Equal(t, 1, sel.Length(), tt.query)
			require.Equal(t, tt.want, Selector(sel.Get(0)))
		})
	}
}

func TestSelectorRejectsNonElements(t *testing.T) {
	t.Parallel()

	require.Empty(t, Selector(nil))

	doc := mustParse(t, "<p>x</p>")
	require.Empty(t, Selector(doc.Get(0)))
}

func TestFlush(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "css", "styles.css")

	empty := NewCollector()
	written, err := empty.Flush(target)
	require.NoError(t, err)
	require.False(t, written)
	require.NoFileExists(t, target)

	collector := NewCollector()
	collector.Add(".a{color:red}")
	collector.Add("#x {color:blue}")
	collector.Add(".a{color:red}")

	written, err = collector.Flush(target)
	require.NoError(t, err)
	require.True(t, written)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "/* Consolidated styles */\n.a{color:red}\n#x {color:blue}", string(data))
}
