package rewrite

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"sitemirror/internal/pathmap"
	"sitemirror/internal/policy"
	"sitemirror/internal/urlutil"
)

// resourceAttrs lists the element/attribute pairs that reference other resources.
var resourceAttrs = []struct {
	tag  string
	attr string
}{
	{tag: "a", attr: "href"},
	{tag: "img", attr: "src"},
	{tag: "link", attr: "href"},
	{tag: "script", attr: "src"},
}

// Asset is a resource the page needs mirrored next to it.
type Asset struct {
	URL   string
	Local string
}

// Result is what one rewrite pass discovered.
type Result struct {
	// Pages are same-origin page URLs to schedule, in document order.
	Pages []string
	// Assets are resources to download, in document order.
	Assets []Asset
	// Invalid holds references that could not be parsed.
	Invalid []error
}

// Rewriter points a page's resource references at their mirrored copies.
type Rewriter struct {
	gate *policy.Gate
}

// New returns a rewriter deciding with gate.
func New(gate *policy.Gate) *Rewriter {
	return &Rewriter{gate: gate}
}

// Rewrite mutates the resource attributes of doc, which was fetched from pageURL
// and will be stored at pageLocal. Links are relative to pageLocal's directory.
func (r *Rewriter) Rewrite(doc *goquery.Document, pageURL string, pageLocal string) (Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}

	var result Result
	seenPages := map[string]struct{}{}
	seenAssets := map[string]struct{}{}

	for _, pair := range resourceAttrs {
		isAnchor := pair.tag == "a"

		doc.Find(pair.tag + "[" + pair.attr + "]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr(pair.attr)

			canonical, err := urlutil.Normalize(base, href)
			if err != nil {
				if !errors.Is(err, urlutil.ErrUnsupported) {
					result.Invalid = append(result.Invalid, err)
				}

				return
			}

			action := r.gate.Classify(canonical, isAnchor)
			if action == policy.Keep {
				return
			}

			canonical = r.gate.OnOrigin(canonical)

			local, err := localPath(canonical)
			if err != nil {
				result.Invalid = append(result.Invalid, err)

				return
			}

			sel.SetAttr(pair.attr, link(pageLocal, local)+urlutil.Fragment(href))

			// Blocked pages keep their local link but are never scheduled.
			if action == policy.Blocked {
				return
			}

			if action == policy.Enqueue {
				if _, ok := seenPages[canonical]; !ok {
					seenPages[canonical] = struct{}{}
					result.Pages = append(result.Pages, canonical)
				}

				return
			}

			if _, ok := seenAssets[canonical]; !ok {
				seenAssets[canonical] = struct{}{}
				result.Assets = append(result.Assets, Asset{URL: canonical, Local: local})
			}
		})
	}

	return result, nil
}

// localPath maps a canonical URL without a content-type hint so every page
// that references it computes the same destination.
func localPath(canonical string) (string, error) {
	parsed, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", canonical, err)
	}

	return pathmap.Local(parsed.Path, ""), nil
}

// link returns the escaped relative reference from one LocalPath to another.
func link(fromLocal string, toLocal string) string {
	return (&url.URL{Path: pathmap.Relative(fromLocal, toLocal)}).String()
}
