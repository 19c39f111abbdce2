package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Fully resolved relative path to the resource.
	// Equivalent to `url.URL.Path`.
	Path string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetCacheUpdates gets the updates specified by the response to an unsafe request,
// e.g. a replayed form submission.
// The request is used in order to resolve potentially relative update paths.
func GetCacheUpdates(req *http.Request, res *http.Response) []CacheUpdate {
	if !unsafeRequest(req) {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	for _, update := range res.Header.Values("Cache-Update") {
		cu := CacheUpdate{}
		cu.Path = getURL(req, update).Path
		cu.Delay = getDelay(update)

		updates = append(updates, cu)
	}
	return updates
}

// unsafeRequest reports whether the request method may change state on the origin.
func unsafeRequest(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// getURL returns the URL to update the cache for from the `Cache-Update` header parameter.
// The URL is the first parameter in the header value (separated by a semicolon).
func getURL(r *http.Request, update string) *url.URL {
	possiblyRelativeURL := strings.TrimSpace(update)
	if i := strings.Index(possiblyRelativeURL, ";"); i != -1 {
		possiblyRelativeURL = possiblyRelativeURL[:i]
	}
	return r.URL.ResolveReference(&url.URL{Path: possiblyRelativeURL})
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}

// GetInvalidateURIs returns the URIs whose stored responses are outdated by a
// non-error (2xx or 3xx) response to an unsafe request: the target URI, and the
// Location and Content-Location of the response if they share its origin.
func GetInvalidateURIs(req *http.Request, res *http.Response) []*url.URL {
	if !unsafeRequest(req) || res.StatusCode < 200 || res.StatusCode > 399 {
		return nil
	}
	target := *req.URL
	target.Fragment = ""
	uris := []*url.URL{&target}
	for _, name := range []string{"Location", "Content-Location"} {
		value := res.Header.Get(name)
		if value == "" {
			continue
		}
		loc, err := url.Parse(value)
		if err != nil {
			continue
		}
		loc = req.URL.ResolveReference(loc)
		if !sameOrigin(req.URL, loc) {
			continue
		}
		loc.Fragment = ""
		if loc.String() != target.String() {
			uris = append(uris, loc)
		}
	}
	return uris
}

// sameOrigin compares scheme and host. Relative URLs share the origin.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
