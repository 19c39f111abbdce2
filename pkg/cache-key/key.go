package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const (
	originSeparator = ":"
	methodSeparator = ":"
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Empty when the keyer is used for client traffic to many hosts.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in a store.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginPrefix + method + methodSeparator
}

// GetKey returns the cache key for a request.
// The key is the method plus the normalized URL of the request.
// Relative (proxied) request URLs are keyed by their request URI only.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.MethodPrefix(r.Method) + NormalizeURL(r.URL)
}

// KeyForPath returns the GET key for a path or URL, e.g. an install asset.
func (c CacheKeyer) KeyForPath(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return c.MethodPrefix(http.MethodGet) + NormalizeURL(u), nil
}

// GetRequestFromKey generates a request equal to the one that resulted in the key.
// Only GET keys can be turned back into requests.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("Key and origin do not match")
	}
	keyNoOrigin := strings.TrimPrefix(key, c.OriginPrefix)
	method, uri, found := strings.Cut(keyNoOrigin, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}

// NormalizeURL returns the URL without fragment, with lower case scheme and host.
// URLs without a host are reduced to their request URI.
func NormalizeURL(u *url.URL) string {
	if u.Host == "" {
		return u.RequestURI()
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + strings.ToLower(u.Host) + u.RequestURI()
}
