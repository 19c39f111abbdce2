package offlinecache

import (
	"context"
	"net/http"
	"time"
)

// Online reports whether the last network request got a response.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// setOnline records the outcome of a network request.
// Coming back online delivers the sync signal.
func (e *Engine) setOnline(online bool) {
	was := e.online.Swap(online)
	if was == online {
		return
	}
	if !online {
		e.log.Warn().Msg("Network unavailable, going offline")
		return
	}
	e.log.Info().Msg("Network available again")
	if e.queue != nil {
		tag := e.config.SyncTag
		e.waitUntil(func() {
			if _, err := e.Sync(context.Background(), tag); err != nil {
				e.log.Error().Err(err).Str("tag", tag).Msg("Could not sync deferred submissions")
			}
		})
	}
}

// startWatching probes the network periodically until Close.
func (e *Engine) startWatching() {
	e.watchMutex.Lock()
	defer e.watchMutex.Unlock()
	if e.stopWatch != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.stopWatch = cancel
	e.log.Info().Msgf("Watching connectivity every %s", e.config.ProbeInterval)
	go e.watch(ctx)
}

func (e *Engine) stopWatching() {
	e.watchMutex.Lock()
	defer e.watchMutex.Unlock()
	if e.stopWatch != nil {
		e.stopWatch()
		e.stopWatch = nil
	}
}

func (e *Engine) watch(ctx context.Context) {
	ticker := time.NewTicker(e.config.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probe(ctx)
		}
	}
}

// probe requests the probe path; fetch records the outcome.
func (e *Engine) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.config.NetworkTimeout)
	defer cancel()
	target, err := e.assetURL(e.config.ProbePath)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not parse probe path")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not create probe request")
		return
	}
	req.Header.Set("Cache-Control", "no-cache")
	res, err := e.fetch(ctx, req)
	if err != nil {
		e.log.Trace().Err(err).Msg("Probe failed")
		return
	}
	discard(res)
}
