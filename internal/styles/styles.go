package styles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Banner prefixes the consolidated stylesheet.
const Banner = "/* Consolidated styles */"

// Path is the LocalPath of the consolidated stylesheet.
const Path = "css/styles.css"

// Collector is the crawl-wide deduplicated set of style rules.
// Rules keep the order they were first seen in. Safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	rules []string
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{seen: map[string]struct{}{}}
}

// Add stores rule unless an identical one is already present.
func (c *Collector) Add(rule string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[rule]; ok {
		return
	}

	c.seen[rule] = struct{}{}
	c.rules = append(c.rules, rule)
}

// Rules returns a copy of the collected rules.
func (c *Collector) Rules() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.rules))
	copy(out, c.rules)

	return out
}

// Len returns the number of distinct rules.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.rules)
}

// Extract moves embedded <style> blocks and inline style attributes of doc
// into the collector. It reports whether the page carried any styles.
func (c *Collector) Extract(doc *goquery.Document) bool {
	found := false

	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		found = true
		c.Add(sel.Text())
		sel.Remove()
	})

	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		found = true
		declaration, _ := sel.Attr("style")

		if selector := Selector(sel.Get(0)); selector != "" {
			c.Add(fmt.Sprintf("%s {%s}", selector, declaration))
		}
		sel.RemoveAttr("style")
	})

	return found
}

// Flush writes the stylesheet to path. Nothing is written when no rules were collected.
func (c *Collector) Flush(path string) (bool, error) {
	rules := c.Rules()
	if len(rules) == 0 {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create css directory: %w", err)
	}

	content := Banner + "\n" + strings.Join(rules, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write stylesheet: %w", err)
	}

	return true, nil
}

// Selector builds a CSS selector for an element node:
// #id, then tag.class1.class2, then a structural nth-of-type path from <html>.
func Selector(node *html.Node) string {
	if node == nil || node.Type != html.ElementNode {
		return ""
	}

	if id := strings.TrimSpace(attr(node, "id")); id != "" {
		return "#" + id
	}

	if classes := strings.Fields(attr(node, "class")); len(classes) > 0 {
		return node.Data + "." + strings.Join(classes, ".")
	}

	var parts []string
	for current := node; current != nil && current.Type == html.ElementNode; current = current.Parent {
		parts = append(parts, step(current))
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return strings.Join(parts, " > ")
}

// step renders one level of a structural path. A tag that is the only one of
// its kind among its siblings needs no index.
func step(node *html.Node) string {
	position, total := 0, 0
	if node.Parent == nil {
		return node.Data
	}

	for sibling := node.Parent.FirstChild; sibling != nil; sibling = sibling.NextSibling {
		if sibling.Type != html.ElementNode || sibling.Data != node.Data {
			continue
		}

		total++
		if sibling == node {
			position = total
		}
	}

	if total <= 1 {
		return node.Data
	}

	return fmt.Sprintf("%s:nth-of-type(%d)", node.Data, position)
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}

	return ""
}

// InjectLink appends a stylesheet link pointing at href to the document head.
func InjectLink(doc *goquery.Document, href string) {
	link := &html.Node{
		Type:     html.ElementNode,
		Data:     "link",
		DataAtom: atom.Link,
		Attr: []html.Attribute{
			{Key: "rel", Val: "stylesheet"},
			{Key: "href", Val: href},
		},
	}

	head := doc.Find("head").First()
	if head.Length() == 0 {
		return
	}

	head.AppendNodes(link)
}
