package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/always-cache/offline-cache/cache"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of an engine. States only move forward.
type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
)

var ErrInvalidState = errors.New("invalid lifecycle state")

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	}
	return "unknown"
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) transition(from, to State) error {
	if !e.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidState, e.State(), to)
	}
	e.log.Debug().Str("state", to.String()).Msg("Lifecycle state changed")
	return nil
}

// Start installs and activates the engine and starts the connectivity watcher.
// Failures to clean up old stores are logged only.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Install(ctx); err != nil {
		return err
	}
	if err := e.Activate(ctx); err != nil {
		e.log.Error().Err(err).Msg("Could not remove all stale caches")
	}
	if e.config.ProbeInterval > 0 {
		e.startWatching()
	}
	return nil
}

// Install opens the primary store and fills it with the install assets.
// Assets that cannot be fetched or stored are logged and skipped.
func (e *Engine) Install(ctx context.Context) error {
	if err := e.transition(StateNew, StateInstalling); err != nil {
		return err
	}
	name := e.config.PrimaryCacheName()
	primary, err := e.storage.Open(name)
	if err != nil {
		e.state.Store(int32(StateNew))
		return &CacheError{Op: "open", Store: name, Err: err}
	}
	e.primary = primary

	e.log.Info().Msgf("Installing %d assets", len(e.config.InstallAssets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, asset := range e.config.InstallAssets {
		asset := asset
		g.Go(func() error {
			if err := e.installAsset(gctx, primary, asset); err != nil {
				e.log.Error().Err(err).Str("asset", asset).Msg("Could not install asset")
			}
			return nil
		})
	}
	g.Wait()

	return e.transition(StateInstalling, StateInstalled)
}

func (e *Engine) installAsset(ctx context.Context, primary cache.Store, asset string) error {
	target, err := e.assetURL(asset)
	if err != nil {
		return err
	}
	key, err := e.keyer.KeyForPath(target)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	res, err := e.fetch(ctx, req)
	if err != nil {
		return err
	}
	defer discard(res)
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return e.put(primary, key, res)
}

// Activate deletes stale stores and takes over request handling.
// The engine is active afterwards even if some stores could not be deleted.
func (e *Engine) Activate(ctx context.Context) error {
	if err := e.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	_, err := e.Prune()
	// claim
	e.state.Store(int32(StateActive))
	e.log.Info().Str("runtime", e.config.RuntimeCache).Msg("Activated")
	return err
}

// Prune deletes every store other than the primary and the runtime store.
// It returns the names of the deleted stores.
func (e *Engine) Prune() ([]string, error) {
	names, err := e.storage.Names()
	if err != nil {
		return nil, &CacheError{Op: "names", Err: err}
	}
	keep := map[string]bool{
		e.config.PrimaryCacheName(): true,
		e.config.RuntimeCache:       true,
	}
	deleted := make([]string, 0)
	var errs []error
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := e.storage.Delete(name); err != nil {
			errs = append(errs, &CacheError{Op: "delete", Store: name, Err: err})
			continue
		}
		e.log.Info().Str("store", name).Msg("Deleted stale cache")
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

// assetURL resolves a configured path, e.g. an install asset, against the
// origin of a transport. Paths are used as is by proxies and middlewares.
func (e *Engine) assetURL(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if e.base != nil {
		u = e.base.ResolveReference(u)
	}
	return u.String(), nil
}

func (e *Engine) assetKey(path string) (string, error) {
	target, err := e.assetURL(path)
	if err != nil {
		return "", err
	}
	return e.keyer.KeyForPath(target)
}
