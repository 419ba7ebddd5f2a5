package cachekey

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const generationSeparator = "-"

// Key returns the cache key for a request URL.
// Keys are path-only: scheme, host and query string do not take part in matching.
func Key(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") {
		return "/" + u.Path
	}
	return u.Path
}

// KeyFromString returns the cache key for a possibly relative URL string,
// e.g. an entry of the shell asset list ("images/logo.gif" becomes "/images/logo.gif").
func KeyFromString(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "/" + strings.TrimLeft(raw, "/")
	}
	return Key(u)
}

// GenerationName returns the name of the cache generation for a version,
// i.e. "<prefix>-<version>".
func GenerationName(prefix string, version int) string {
	return prefix + generationSeparator + strconv.Itoa(version)
}

// ParseGeneration extracts the version from a generation name.
// It returns false if the name does not follow the "<prefix>-<integer>" pattern.
func ParseGeneration(prefix, name string) (int, bool) {
	m := generationPattern(prefix).FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return version, true
}

// Detail expands a detail route pattern such as "/post/{id}" for an item identifier.
func Detail(pattern, id string) string {
	if !strings.Contains(pattern, "{id}") {
		return strings.TrimRight(pattern, "/") + "/" + url.PathEscape(id)
	}
	return strings.ReplaceAll(pattern, "{id}", url.PathEscape(id))
}

func generationPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s%s(\d+)$`, regexp.QuoteMeta(prefix), generationSeparator))
}
