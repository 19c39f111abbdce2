package offlinecache

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// NewMiddleware returns a middleware that serves the wrapped handler through an engine.
// The wrapped handler is the network: it fills the install assets and answers misses.
// When used with a router, wrap the whole router rather than registering the
// middleware on it, since background fetches run outside of the request.
//
// If the engine cannot be created, the handler is returned as is.
func NewMiddleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		cfg := config
		cfg.Fetcher = HandlerFetcher{Handler: next}
		e, err := New(cfg)
		if err != nil {
			logger := log.Logger
			if cfg.Logger != nil {
				logger = *cfg.Logger
			}
			logger.Error().Err(err).Msg("Could not create offline cache, serving without it")
			return next
		}
		if err := e.Start(context.Background()); err != nil {
			e.log.Error().Err(err).Msg("Could not start offline cache, serving without it")
			return next
		}
		return e
	}
}
