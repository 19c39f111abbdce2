package offlinecache

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	routerules "github.com/always-cache/offline-cache/pkg/route-rules"
)

// Route is the classification of an intercepted request.
type Route int

const (
	// Not handled by the engine, e.g. non-GET requests.
	RouteBypass Route = iota
	// Path starts with the API prefix.
	RouteAPI
	// Path has a static asset extension.
	RouteStatic
	// HTML document, e.g. a navigation.
	RouteDocument
	// Anything else.
	RouteOther
)

func (r Route) String() string {
	switch r {
	case RouteBypass:
		return "bypass"
	case RouteAPI:
		return "api"
	case RouteStatic:
		return "static"
	case RouteDocument:
		return "document"
	case RouteOther:
		return "other"
	}
	return "unknown"
}

// Strategy returns the name of the strategy handling the route.
func (r Route) Strategy() string {
	switch r {
	case RouteStatic:
		return routerules.CacheFirst
	case RouteDocument:
		return routerules.StaleWhileRevalidate
	case RouteAPI, RouteOther:
		return routerules.NetworkFirst
	}
	return routerules.Bypass
}

// Router classifies requests. It does no I/O.
type Router struct {
	apiPrefix  string
	extensions map[string]struct{}
}

func NewRouter(apiPrefix string, staticExtensions []string) Router {
	extensions := make(map[string]struct{}, len(staticExtensions))
	for _, ext := range staticExtensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}
	return Router{
		apiPrefix:  apiPrefix,
		extensions: extensions,
	}
}

var defaultRouter = NewRouter(DefaultAPIPrefix, DefaultStaticExtensions)

// Classify classifies a request with the default API prefix and static extensions.
func Classify(method string, u *url.URL, accept string) Route {
	return defaultRouter.Classify(method, u, accept)
}

// Classify returns the route of a request, first match wins:
// the API prefix, then static extensions, then HTML documents.
// Requests without a scheme (e.g. proxied requests) count as http.
func (rt Router) Classify(method string, u *url.URL, accept string) Route {
	if method != http.MethodGet || !interceptable(u) {
		return RouteBypass
	}
	if rt.apiPrefix != "" && strings.HasPrefix(u.Path, rt.apiPrefix) {
		return RouteAPI
	}
	if _, ok := rt.extensions[strings.ToLower(path.Ext(u.Path))]; ok {
		return RouteStatic
	}
	if acceptsHTML(accept) {
		return RouteDocument
	}
	return RouteOther
}

func interceptable(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return true
	}
	return false
}

func acceptsHTML(accept string) bool {
	return strings.Contains(strings.ToLower(accept), "text/html")
}

// isNavigation reports whether the request loads a whole document.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return acceptsHTML(r.Header.Get("Accept"))
}

// route decides the strategy for a request.
// A matching rule wins over the built-in classification.
func (e *Engine) route(r *http.Request) (string, *routerules.Rule) {
	classified := e.router.Classify(r.Method, r.URL, r.Header.Get("Accept"))
	if classified == RouteBypass {
		return routerules.Bypass, nil
	}
	if rule := e.config.Rules.Find(r); rule != nil {
		return rule.Strategy, rule
	}
	return classified.Strategy(), nil
}
