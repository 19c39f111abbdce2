package offlinecache

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"

	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

// Fetcher is the network as seen by the engine.
// An error means no response could be obtained, e.g. the origin is unreachable.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc is an adapter to use ordinary functions as fetchers.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// OriginFetcher sends requests to a single origin server.
// Redirects are returned to the caller, not followed.
type OriginFetcher struct {
	origin     url.URL
	hostHeader string
	client     *http.Client
}

func NewOriginFetcher(origin url.URL, originHost string) *OriginFetcher {
	hostHeader := origin.Host
	transport := http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &OriginFetcher{
		origin:     origin,
		hostHeader: hostHeader,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (o *OriginFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	target := o.origin.Scheme + "://" + o.origin.Host + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Header.Del("Connection")
	req.ContentLength = r.ContentLength
	req.Host = o.hostHeader
	return o.client.Do(req)
}

// TransportFetcher sends requests as they are, e.g. to any host.
type TransportFetcher struct {
	Transport http.RoundTripper
}

func (t TransportFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return transport.RoundTrip(r.WithContext(ctx))
}

// HandlerFetcher uses a handler as the network, e.g. when used as a middleware.
// The response is recorded in full before it is returned.
// A panicking handler results in an error.
type HandlerFetcher struct {
	Handler http.Handler
}

func (h HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (res *http.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	rw := tee.NewResponseSaver(nil)
	h.Handler.ServeHTTP(rw, r.WithContext(ctx))
	return rw.Result(r)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
