package offlinecache

import (
	"net/http"
)

// NewTransport creates an engine for outgoing client requests.
// Without a fetcher in the config, requests go out through http.DefaultTransport.
// Relative install assets, offline page and probe path are resolved against
// OriginURL, which is required if any of them is relative.
//
//	e, _ := offlinecache.NewTransport(config)
//	e.Start(ctx)
//	client := &http.Client{Transport: e}
func NewTransport(config Config) (*Engine, error) {
	if config.Fetcher == nil {
		config.Fetcher = TransportFetcher{Transport: http.DefaultTransport}
	}
	return newEngine(config, true)
}

// RoundTrip implements the http.RoundTripper interface.
// Network failures result in synthetic responses, never in errors.
func (e *Engine) RoundTrip(r *http.Request) (*http.Response, error) {
	return e.Handle(r.Context(), r), nil
}
