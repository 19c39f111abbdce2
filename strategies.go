package offlinecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	"github.com/always-cache/offline-cache/pkg/race"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// CacheError is a failed cache operation.
// It is logged, never returned to the client.
type CacheError struct {
	Op    string
	Store string
	Key   string
	Err   error
}

func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Store, e.Err)
	}
	return fmt.Sprintf("cache %s %s %s: %v", e.Op, e.Store, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// cacheFirst answers from the cache and refreshes the entry in the background.
// Misses are fetched and stored.
func (e *Engine) cacheFirst(req *request) *http.Response {
	if cached, ok := e.lookup(req, req.key); ok {
		req.cacheStatus.Hit()
		e.refreshInBackground(req)
		return cached
	}

	req.cacheStatus.Forward(cachestatus.FwdUriMiss)
	res, err := e.fetch(req.ctx, req.r)
	if err != nil {
		req.log.Debug().Err(err).Msg("Network unavailable and nothing cached")
		return serializer.Synthetic(http.StatusServiceUnavailable, offlineBody, req.r)
	}
	req.cacheStatus.FwdStatus = res.StatusCode
	e.store(req, res)
	return res
}

// networkFirst answers from the network if it responds within the timeout.
// Otherwise the cache, the offline page or a synthetic response is used.
func (e *Engine) networkFirst(req *request) *http.Response {
	res, err := race.Within(req.ctx, e.config.NetworkTimeout,
		func(ctx context.Context) (*http.Response, error) {
			return e.fetch(ctx, req.r)
		},
		race.Options[*http.Response]{
			CancelLate: e.config.CancelLateNetwork,
			OnLate: func(res *http.Response, err error) {
				req.log.Trace().Err(err).Msg("Discarding late network response")
				discard(res)
			},
		})

	if err == nil {
		req.cacheStatus.Forward(cachestatus.FwdMiss)
		req.cacheStatus.FwdStatus = res.StatusCode
		// other statuses are valid answers too, but are never stored
		e.store(req, res)
		return res
	}

	req.log.Debug().Err(err).Msg("Network failed or too slow, falling back to cache")
	detail := "offline"
	if err == race.ErrTimeout {
		detail = "timeout"
	}
	if cached, ok := e.lookup(req, req.key); ok {
		req.cacheStatus.Hit()
		req.cacheStatus.Detail = detail
		return cached
	}
	req.cacheStatus.Forward(cachestatus.FwdUriMiss)
	req.cacheStatus.Detail = detail
	if isNavigation(req.r) {
		if page, ok := e.offlinePage(req); ok {
			return page
		}
	}
	return serializer.Synthetic(http.StatusServiceUnavailable, networkErrorBody, req.r)
}

// staleWhileRevalidate answers from the cache if possible and always revalidates.
// Without a cached entry it waits for the network.
func (e *Engine) staleWhileRevalidate(req *request) *http.Response {
	if cached, ok := e.lookup(req, req.key); ok {
		req.cacheStatus.Hit()
		e.refreshInBackground(req)
		return cached
	}

	req.cacheStatus.Forward(cachestatus.FwdUriMiss)
	type revalidated struct {
		res    *http.Response
		stored bool
	}
	settled := make(chan revalidated, 1)
	r := req.r.Clone(context.WithoutCancel(req.ctx))
	revalidate := func() {
		res, err := e.fetch(r.Context(), r)
		if err != nil {
			req.log.Debug().Err(err).Msg("Network unavailable and nothing cached")
			settled <- revalidated{res: serializer.Synthetic(http.StatusServiceUnavailable, offlineBody, r)}
			return
		}
		stored := false
		if res.StatusCode == http.StatusOK {
			if err := e.put(e.runtime, req.key, res); err != nil {
				req.log.Error().Err(err).Msg("Could not store revalidated response")
			} else {
				stored = true
			}
		}
		settled <- revalidated{res: res, stored: stored}
	}
	if !e.waitUntil(revalidate) {
		revalidate()
	}

	select {
	case rv := <-settled:
		if rv.res.Request == r {
			rv.res.Request = req.r
		}
		req.cacheStatus.FwdStatus = rv.res.StatusCode
		req.cacheStatus.Stored = rv.stored
		return rv.res
	case <-req.ctx.Done():
		// the revalidation still completes in the background
		return serializer.Synthetic(http.StatusServiceUnavailable, offlineBody, req.r)
	}
}

// lookup returns a stored response for the key.
// The runtime store is searched first, then the primary store.
func (e *Engine) lookup(req *request, key string) (*http.Response, bool) {
	for _, store := range e.stores() {
		entry, ok, err := store.Get(key)
		if err != nil {
			req.log.Error().Err(&CacheError{Op: "get", Store: store.Name(), Key: key, Err: err}).Msg("Could not read from cache")
			continue
		}
		if !ok {
			continue
		}
		stored, err := serializer.BytesToStoredResponse(entry.Bytes, req.r)
		if err != nil {
			req.log.Error().Err(&CacheError{Op: "parse", Store: store.Name(), Key: key, Err: err}).Msg("Could not create response")
			continue
		}
		req.log.Trace().Str("store", store.Name()).Time("storedAt", stored.StoredAt).Msg("Found cached response")
		return stored.Response, true
	}
	return nil, false
}

func (e *Engine) stores() []cache.Store {
	if e.primary == nil {
		return []cache.Store{e.runtime}
	}
	return []cache.Store{e.runtime, e.primary}
}

// offlinePage returns the stored offline document.
// It is keyed the way Install keyed it.
func (e *Engine) offlinePage(req *request) (*http.Response, bool) {
	if e.config.OfflinePage == "" {
		return nil, false
	}
	key, err := e.assetKey(e.config.OfflinePage)
	if err != nil {
		req.log.Error().Err(err).Msg("Could not parse offline page")
		return nil, false
	}
	res, ok := e.lookup(req, key)
	if ok {
		req.cacheStatus.Detail = "offline-page"
	}
	return res, ok
}

// store writes a successful response to the runtime store.
// Failures are logged, the response stays readable either way.
func (e *Engine) store(req *request, res *http.Response) {
	if res.StatusCode != http.StatusOK {
		return
	}
	if err := e.put(e.runtime, req.key, res); err != nil {
		req.log.Error().Err(err).Msg("Could not write to cache")
		return
	}
	req.cacheStatus.Stored = true
}

// put writes a status 200 response to a store.
func (e *Engine) put(store cache.Store, key string, res *http.Response) error {
	if res.StatusCode != http.StatusOK {
		return &CacheError{Op: "put", Store: store.Name(), Key: key, Err: fmt.Errorf("status %d is not stored", res.StatusCode)}
	}
	now := time.Now()
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{Response: res, StoredAt: now})
	if err != nil {
		return &CacheError{Op: "serialize", Store: store.Name(), Key: key, Err: err}
	}
	e.log.Trace().Str("store", store.Name()).Msgf("Writing to cache: %v", key)
	if err := store.Put(cache.CacheEntry{Key: key, StoredAt: now, Bytes: bts}); err != nil {
		return &CacheError{Op: "put", Store: store.Name(), Key: key, Err: err}
	}
	return nil
}

// discard drains and closes a response nobody is going to read.
func discard(res *http.Response) {
	if res == nil || res.Body == nil {
		return
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
