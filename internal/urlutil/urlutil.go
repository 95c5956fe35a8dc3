package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var domainPattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ErrUnsupported marks references that are never mirrored: empty, fragment-only,
// or using a scheme other than http(s).
var ErrUnsupported = errors.New("unsupported reference")

// Origin is the crawl's root authority.
// Host is lowercased and has a leading "www." removed; URL is the canonical root.
type Origin struct {
	URL  *url.URL
	Host string
}

// ParseOrigin accepts a URL or a bare domain. A missing scheme defaults to http.
// A trailing slash on a non-root path is kept so the start page shares its key with links to it.
func ParseOrigin(raw string) (Origin, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Origin{}, errors.New("empty url")
	}

	if !HasScheme(trimmed) {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Origin{}, err
	}
	if parsed.Host == "" {
		return Origin{}, errors.New("missing host")
	}

	parsed.Fragment = ""
	canonicalizeRootPath(parsed)

	return Origin{
		URL:  parsed,
		Host: DomainKey(parsed.Host),
	}, nil
}

// HasScheme reports whether raw starts with http:// or https://.
func HasScheme(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// IsDomain reports whether raw is a bare domain name such as www.example.com.
func IsDomain(raw string) bool {
	return domainPattern.MatchString(raw)
}

// ValidTarget accepts a full http(s) URL or a bare domain name.
func ValidTarget(raw string) bool {
	raw = strings.TrimSpace(raw)

	return HasScheme(raw) || IsDomain(raw)
}

// SameDomain reports whether raw points at the origin, ignoring scheme, case and a www. prefix.
func (o Origin) SameDomain(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}

	return DomainKey(parsed.Host) == o.Host
}

// String returns the canonical root URL.
func (o Origin) String() string {
	if o.URL == nil {
		return ""
	}

	return o.URL.String()
}

// DomainKey lowercases host and strips a leading "www.".
func DomainKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// Normalize resolves href against base and returns the canonical form used as the dedup key:
// absolute, fragment stripped, root path collapsed. Percent-encoding is kept as written.
func Normalize(base *url.URL, href string) (string, error) {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", ErrUnsupported
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", trimmed, err)
	}

	if !isSupportedScheme(parsed.Scheme) {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupported, parsed.Scheme)
	}

	resolved := resolveReference(base, parsed)
	if !isSupportedScheme(resolved.Scheme) || resolved.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrUnsupported, trimmed)
	}

	canonicalizeRootPath(resolved)
	resolved.Fragment = ""
	resolved.RawFragment = ""

	return resolved.String(), nil
}

// Fragment returns the fragment of href including the leading '#', or "".
func Fragment(href string) string {
	idx := strings.IndexByte(href, '#')
	if idx < 0 || idx == len(href)-1 {
		return ""
	}

	return strings.TrimSpace(href[idx:])
}

func isSupportedScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)

	return scheme == "" || scheme == "http" || scheme == "https"
}

func resolveReference(base *url.URL, parsed *url.URL) *url.URL {
	if parsed.Scheme == "" && base != nil {
		return base.ResolveReference(parsed)
	}

	return parsed
}

func canonicalizeRootPath(u *url.URL) {
	if u.Path == "/" {
		u.Path = ""
		u.RawPath = ""
	}
}
