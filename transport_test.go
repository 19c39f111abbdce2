package offlinecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripServesCacheWhenOriginIsGone(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("h1 { margin: 0 }"))
	}))

	config := testConfig(nil)
	config.Fetcher = nil
	e, err := NewTransport(config)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close(context.Background())
	client := &http.Client{Transport: e}

	res, err := client.Get(origin.URL + "/site.css")
	require.NoError(t, err)
	assert.Equal(t, "h1 { margin: 0 }", readBody(t, res))
	assert.True(t, e.runtime.Has("GET:"+origin.URL+"/site.css"))

	origin.Close()
	wait(t, e)

	res, err = client.Get(origin.URL + "/site.css")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/css", res.Header.Get("Content-Type"))
	assert.Equal(t, "h1 { margin: 0 }", readBody(t, res))

	// the background refresh found the origin gone
	wait(t, e)
	assert.False(t, e.Online())

	res, err = client.Get(origin.URL + "/other.css")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "Offline", readBody(t, res))
}

func TestTransportResolvesPathsAgainstOriginURL(t *testing.T) {
	var checks atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/offline.html":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("You are offline"))
		case "/health":
			checks.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	config := testConfig(nil)
	config.Fetcher = nil
	config.OriginURL = *originURL
	config.OfflinePage = "/offline.html"
	config.ProbePath = "/health"
	config.ProbeInterval = 20 * time.Millisecond
	e, err := NewTransport(config)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close(context.Background())
	client := &http.Client{Transport: e}

	assert.True(t, e.primary.Has("GET:"+origin.URL+"/offline.html"))

	// the watcher reaches the origin and keeps the engine online
	require.Eventually(t, func() bool { return checks.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, e.Online())

	origin.Close()

	req, err := http.NewRequest(http.MethodGet, origin.URL+"/feed", nil)
	require.NoError(t, err)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	res, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "You are offline", readBody(t, res))
	assert.Contains(t, res.Header.Get("Cache-Status"), "detail=offline-page")
	assert.False(t, e.Online())
}

func TestNewTransportRejectsRelativePathsWithoutOrigin(t *testing.T) {
	config := testConfig(nil)
	config.Fetcher = nil
	config.OfflinePage = "/offline.html"
	_, err := NewTransport(config)
	assert.ErrorContains(t, err, `"/offline.html"`)

	config = testConfig(nil)
	config.Fetcher = nil
	config.ProbeInterval = time.Minute
	_, err = NewTransport(config)
	assert.ErrorContains(t, err, `relative path "/"`)

	config.InstallAssets = []string{"https://example.com/"}
	config.ProbePath = "https://example.com/health"
	_, err = NewTransport(config)
	assert.NoError(t, err)

	// proxies key relative paths and need no origin to resolve them
	proxyConfig := testConfig(newTestNetwork(map[string]string{}))
	proxyConfig.OfflinePage = "/offline.html"
	proxyConfig.ProbeInterval = time.Minute
	_, err = New(proxyConfig)
	assert.NoError(t, err)
}

func TestOriginFetcherProxiesWithoutFollowingRedirects(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		if r.Header.Get("Connection") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(r.Host + " " + r.URL.RequestURI()))
	}))
	defer origin.Close()
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	config := testConfig(nil)
	config.Fetcher = nil
	config.OriginURL = *originURL
	e := startEngine(t, config)

	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/old", nil))
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "/new", rr.Header().Get("Location"))

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/page?x=1", nil)
	req.Header.Set("Connection", "keep-alive")
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, originURL.Host+" /page?x=1", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Cache-Status"), "fwd=miss")
}
