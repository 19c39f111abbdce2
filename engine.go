// Package offlinecache is an offline-first caching layer for HTTP traffic.
//
// The engine intercepts GET requests and serves them cache-first, network-first or
// stale-while-revalidate, depending on the route. Cache generations are tied to a
// deployment version, and form submissions made while the network is down are queued
// and replayed once it is back.
//
// The engine can be used as a reverse proxy (Engine.ServeHTTP),
// as a middleware (NewMiddleware) or as a client transport (Engine.RoundTrip).
package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	routerules "github.com/always-cache/offline-cache/pkg/route-rules"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	offlineBody      = "Offline"
	networkErrorBody = "Network error"
	queuedBody       = "Queued"
)

type Engine struct {
	config  Config
	storage cache.Storage
	queue   queue.Queue
	network Fetcher
	keyer   cachekey.CacheKeyer
	router  Router
	log     zerolog.Logger

	state   atomic.Int32
	runtime cache.Store
	primary cache.Store

	// origin of a transport, nil otherwise
	base *url.URL

	online     atomic.Bool
	stopWatch  context.CancelFunc
	watchMutex sync.Mutex

	tasks        sync.WaitGroup
	tasksMutex   sync.Mutex
	done         chan struct{}
	closeOnce    sync.Once
	refreshGroup singleflight.Group
	syncGroup    singleflight.Group
}

// New creates an engine in the StateNew state.
// Call Start (or Install and Activate) before it handles requests from the cache.
func New(config Config) (*Engine, error) {
	return newEngine(config, false)
}

func newEngine(config Config, transport bool) (*Engine, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if transport {
		if err := config.validateTransport(); err != nil {
			return nil, err
		}
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("cache", config.PrimaryCacheName()).
		Logger()

	network := config.Fetcher
	if network == nil {
		network = NewOriginFetcher(config.OriginURL, config.OriginHost)
	}

	runtime, err := config.Storage.Open(config.RuntimeCache)
	if err != nil {
		return nil, &CacheError{Op: "open", Store: config.RuntimeCache, Err: err}
	}

	e := &Engine{
		config:  config,
		storage: config.Storage,
		queue:   config.Queue,
		network: network,
		router:  NewRouter(config.APIPrefix, config.StaticExtensions),
		log:     logger,
		runtime: runtime,
		done:    make(chan struct{}),
	}
	if transport && config.OriginURL.Host != "" {
		base := config.OriginURL
		e.base = &base
	}
	e.online.Store(true)
	return e, nil
}

// request is a single intercepted request.
type request struct {
	ctx         context.Context
	r           *http.Request
	key         string
	strategy    string
	cacheStatus cachestatus.CacheStatus
	log         zerolog.Logger
}

// Handle serves a request. It always returns a response, synthetic if need be.
// The response carries a Cache-Status header.
func (e *Engine) Handle(ctx context.Context, r *http.Request) (res *http.Response) {
	if e.config.RequestModifier != nil {
		e.config.RequestModifier(r)
	}
	req := &request{
		ctx: ctx,
		r:   r,
		key: e.keyer.GetKey(r),
	}
	req.log = e.log.With().Str("key", req.key).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			req.log.Error().Interface("panic", rec).Msg("Recovered from panic while handling request")
			res = serializer.Synthetic(http.StatusServiceUnavailable, networkErrorBody, r)
			req.cacheStatus.Forward(cachestatus.FwdMiss)
			req.cacheStatus.Detail = "panic"
		}
		if res == nil {
			res = serializer.Synthetic(http.StatusServiceUnavailable, networkErrorBody, r)
		}
		if res.Header == nil {
			res.Header = http.Header{}
		}
		res.Header.Add("Cache-Status", req.cacheStatus.String())
		e.logRequest(req, res)
	}()

	var rule *routerules.Rule
	if e.State() != StateActive {
		req.strategy = routerules.Bypass
	} else {
		req.strategy, rule = e.route(r)
	}
	req.log.Trace().Str("strategy", req.strategy).Msg("Routing request")

	switch req.strategy {
	case routerules.CacheFirst:
		res = e.cacheFirst(req)
	case routerules.NetworkFirst:
		res = e.networkFirst(req)
	case routerules.StaleWhileRevalidate:
		res = e.staleWhileRevalidate(req)
	default:
		res = e.passThrough(req)
	}
	if rule != nil {
		rule.Apply(res)
	}
	return res
}

// ServeHTTP implements the http.Handler interface.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := e.Handle(r.Context(), r)
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if r.Method == http.MethodHead || res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not write response body to client")
	}
	e.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// passThrough sends the request to the network as is.
// Submissions to a sync path are deferred when the network fails.
func (e *Engine) passThrough(req *request) *http.Response {
	if req.r.Method == http.MethodGet {
		req.cacheStatus.Forward(cachestatus.FwdBypass)
	} else {
		req.cacheStatus.Forward(cachestatus.FwdMethod)
	}

	var submission *queue.Submission
	if e.deferrable(req.r) {
		var err error
		if submission, err = queue.FromRequest(e.config.SyncTag, req.r); err != nil {
			req.log.Error().Err(err).Msg("Could not capture submission")
		}
	}

	res, err := e.fetch(req.ctx, req.r)
	if err != nil {
		if submission != nil {
			if err := e.queue.Enqueue(context.WithoutCancel(req.ctx), submission); err != nil {
				req.log.Error().Err(err).Msg("Could not queue submission")
			} else {
				req.log.Info().Str("submission", submission.ID).Msg("Network unavailable, submission queued")
				req.cacheStatus.Detail = "queued"
				return serializer.Synthetic(http.StatusAccepted, queuedBody, req.r)
			}
		}
		req.log.Debug().Err(err).Msg("Network unavailable for pass-through request")
		return serializer.Synthetic(http.StatusServiceUnavailable, networkErrorBody, req.r)
	}
	req.cacheStatus.FwdStatus = res.StatusCode

	if req.r.Method != http.MethodGet {
		e.updateIfNeeded(req.r, res)
	}
	return res
}

// deferrable reports whether a failed request should be queued for later delivery.
func (e *Engine) deferrable(r *http.Request) bool {
	if e.queue == nil {
		return false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	for _, p := range e.config.SyncPaths {
		if r.URL.Path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(r.URL.Path, p)) {
			return true
		}
	}
	return false
}

// fetch sends a request to the network and tracks connectivity from the outcome.
func (e *Engine) fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	res, err := e.network.Fetch(ctx, r)
	if err != nil {
		// a cancelled caller says nothing about the network
		if !errors.Is(err, context.Canceled) {
			e.setOnline(false)
		}
		return nil, err
	}
	e.setOnline(true)
	return res, nil
}

// waitUntil runs an extended task in the background.
// Close waits for registered tasks to settle. Once closed, no task is started
// and waitUntil returns false.
func (e *Engine) waitUntil(task func()) bool {
	e.tasksMutex.Lock()
	select {
	case <-e.done:
		e.tasksMutex.Unlock()
		e.log.Debug().Msg("Engine closed, not starting background task")
		return false
	default:
	}
	e.tasks.Add(1)
	e.tasksMutex.Unlock()
	go func() {
		defer e.tasks.Done()
		defer func() {
			if rec := recover(); rec != nil {
				e.log.Error().Interface("panic", rec).Msg("Recovered from panic in background task")
			}
		}()
		task()
	}()
	return true
}

// Wait blocks until all background tasks have settled or the context is done.
func (e *Engine) Wait(ctx context.Context) error {
	settled := make(chan struct{})
	go func() {
		e.tasks.Wait()
		close(settled)
	}()
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the connectivity watcher, cancels delayed updates and
// waits for background tasks. The storage and queue are not closed.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.stopWatching()
		e.tasksMutex.Lock()
		close(e.done)
		e.tasksMutex.Unlock()
	})
	return e.Wait(ctx)
}

// Stores lists the names of all stores in the storage.
func (e *Engine) Stores() ([]string, error) {
	return e.storage.Names()
}

func (e *Engine) logRequest(req *request, res *http.Response) {
	isHit := 0
	if req.cacheStatus.IsHit() {
		isHit = 1
	}
	req.log.Debug().
		Str("method", req.r.Method).
		Str("url", req.r.URL.String()).
		Str("strategy", req.strategy).
		Int("status", res.StatusCode).
		Str("fwd", string(req.cacheStatus.FwdReason)).
		Bool("stored", req.cacheStatus.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}
