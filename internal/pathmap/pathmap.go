package pathmap

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const indexFile = "index.html"

// contentTypes maps a bare media type to the extension stored on disk.
var contentTypes = map[string]string{
	"text/html":                ".html",
	"text/javascript":          ".js",
	"application/javascript":   ".js",
	"application/x-javascript": ".js",
	"text/css":                 ".css",
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/gif":                ".gif",
	"image/svg+xml":            ".svg",
	"image/x-icon":             ".ico",
	"application/json":         ".json",
	"application/xml":          ".xml",
	"text/xml":                 ".xml",
	"text/plain":               ".txt",
}

// Extension picks the on-disk extension for a URL path.
// Priority: extension in the last path segment, then the content-type table,
// then ".html" for directory-like or dotless paths. Otherwise "".
func Extension(urlPath string, contentType string) string {
	if ext := strings.ToLower(path.Ext(urlPath)); ext != "" && ext != "." {
		return ext
	}

	if mediaType := mediaType(contentType); mediaType != "" {
		if ext, ok := contentTypes[mediaType]; ok {
			return ext
		}
	}

	last := urlPath[strings.LastIndexByte(urlPath, '/')+1:]
	if strings.HasSuffix(urlPath, "/") || !strings.Contains(last, ".") {
		return ".html"
	}

	return ""
}

// ExtensionForType returns the mapped extension for a Content-Type header value.
func ExtensionForType(contentType string) (string, bool) {
	ext, ok := contentTypes[mediaType(contentType)]

	return ext, ok
}

func mediaType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}

	return strings.ToLower(strings.TrimSpace(contentType))
}

// Mapper turns canonical URLs into paths under Root (the <outdir>/<host> directory).
// Map is a pure function of the URL path and the content type.
type Mapper struct {
	Root string
}

// New returns a Mapper rooted at root.
func New(root string) Mapper {
	return Mapper{Root: root}
}

// Map returns the slash-separated LocalPath for rawURL, relative to Root.
func (m Mapper) Map(rawURL string, contentType string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("map %q: %w", rawURL, err)
	}

	return Local(parsed.Path, contentType), nil
}

// Local maps a decoded URL path to its LocalPath.
func Local(urlPath string, contentType string) string {
	local := strings.TrimLeft(urlPath, "/")
	if local == "" || strings.HasSuffix(local, "/") {
		local += indexFile
	}

	ext := Extension(urlPath, contentType)
	if ext != "" && !strings.HasSuffix(strings.ToLower(local), ext) {
		local += ext
	}

	return cleanLocal(local)
}

// Abs returns the filesystem path for a LocalPath.
func (m Mapper) Abs(local string) string {
	return filepath.Join(m.Root, filepath.FromSlash(cleanLocal(local)))
}

// Relative returns the link from the page stored at fromLocal to toLocal.
func Relative(fromLocal string, toLocal string) string {
	fromDir := path.Dir(cleanLocal(fromLocal))
	rel, err := filepath.Rel(filepath.FromSlash(fromDir), filepath.FromSlash(cleanLocal(toLocal)))
	if err != nil {
		return cleanLocal(toLocal)
	}

	return filepath.ToSlash(rel)
}

// cleanLocal resolves dot segments without letting the path climb above the root.
func cleanLocal(local string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+local), "/")
	if cleaned == "" {
		return indexFile
	}

	return cleaned
}
