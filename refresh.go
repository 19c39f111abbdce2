package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cacheupdate "github.com/always-cache/offline-cache/pkg/cache-update"

	"golang.org/x/sync/errgroup"
)

// refreshConcurrency limits parallel fetches of RefreshAll and Install.
const refreshConcurrency = 4

// refreshInBackground re-fetches the request and overwrites its cache entry.
// The caller does not wait for it.
func (e *Engine) refreshInBackground(req *request) {
	r := req.r.Clone(context.WithoutCancel(req.ctx))
	key := req.key
	e.waitUntil(func() {
		if err := e.refresh(r, key); err != nil {
			req.log.Debug().Err(err).Msg("Background refresh failed")
		}
	})
}

// refresh fetches the request and stores a successful response under key.
// Concurrent refreshes of the same key share one fetch.
func (e *Engine) refresh(r *http.Request, key string) error {
	_, err, shared := e.refreshGroup.Do(key, func() (any, error) {
		e.log.Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Str("key", key).
			Msg("Requesting content from network")

		res, err := e.fetch(r.Context(), r)
		if err != nil {
			return nil, err
		}
		defer discard(res)
		if res.StatusCode != http.StatusOK {
			e.log.Trace().Str("key", key).Msgf("Not refreshing with status %d", res.StatusCode)
			return nil, nil
		}
		return nil, e.put(e.runtime, key, res)
	})
	if shared {
		e.log.Trace().Str("key", key).Msg("Joined refresh in flight")
	}
	return err
}

// RefreshAll re-fetches every entry of the runtime store.
// It returns the number of entries that could not be refreshed.
func (e *Engine) RefreshAll(ctx context.Context) (int, error) {
	keys := make([]string, 0)
	if err := e.runtime.AllKeys(func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return 0, &CacheError{Op: "keys", Store: e.runtime.Name(), Err: err}
	}
	e.log.Info().Msgf("Refreshing %d cache entries", len(keys))

	failed := make(chan string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			req, err := e.keyer.GetRequestFromKey(key)
			if err == cachekey.ErrorMethodNotSupported {
				return nil
			} else if err != nil {
				e.log.Error().Err(err).Str("key", key).Msg("Could not get request from key")
				failed <- key
				return nil
			}
			if err := e.refresh(req.WithContext(gctx), key); err != nil {
				e.log.Error().Err(err).Str("key", key).Msg("Could not update cache entry")
				failed <- key
			}
			return nil
		})
	}
	g.Wait()
	close(failed)
	if len(failed) > 0 {
		return len(failed), fmt.Errorf("%d of %d entries not refreshed", len(failed), len(keys))
	}
	return 0, ctx.Err()
}

// updateIfNeeded refreshes what a response to an unsafe request outdated:
// stored responses of the target URI (and its Location), and the paths
// named by `Cache-Update` headers.
// Updates without a delay are done before returning.
func (e *Engine) updateIfNeeded(r *http.Request, res *http.Response) {
	e.revalidateUris(cacheupdate.GetInvalidateURIs(r, res))
	e.saveUpdates(r, cacheupdate.GetCacheUpdates(r, res))
}

// revalidateUris re-fetches the URIs that are stored in the runtime store.
func (e *Engine) revalidateUris(uris []*url.URL) {
	for _, uri := range uris {
		e.log.Trace().Str("uri", uri.String()).Msgf("Revalidating possibly stored response")
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, uri.String(), nil)
		if err != nil {
			e.log.Error().Err(err).Str("uri", uri.String()).Msg("Could not create request for revalidation")
			continue
		}
		key := e.keyer.GetKey(req)
		if e.runtime.Has(key) {
			if err := e.refresh(req, key); err != nil {
				e.log.Error().Err(err).Str("key", key).Msg("Error revalidating stored request")
			}
		}
	}
}

func (e *Engine) saveUpdates(r *http.Request, updates []cacheupdate.CacheUpdate) {
	for _, update := range updates {
		e.log.Trace().Str("update", update.Path).Msgf("Updating cache based on header")
		u := *r.URL
		u.Path, u.RawPath, u.RawQuery, u.Fragment = update.Path, "", "", ""
		updateCache := func() {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u.String(), nil)
			if err != nil {
				e.log.Error().Err(err).Str("path", update.Path).Msg("Could not create request for updates")
				return
			}
			if err := e.refresh(req, e.keyer.GetKey(req)); err != nil {
				e.log.Error().Err(err).Str("path", update.Path).Msg("Could not save updates")
			}
		}
		if update.Delay > 0 {
			delay := update.Delay
			e.waitUntil(func() {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-timer.C:
					updateCache()
				case <-e.done:
				}
			})
		} else {
			updateCache()
		}
	}
}
