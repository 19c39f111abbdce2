package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	controlPrefix   = "/.offline-cache"
	shutdownTimeout = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Proxy the origin and serve it offline-first",
	Long: `Proxy the origin and serve it offline-first.

Besides the proxied site, the following control routes are served:
  POST /.offline-cache/sync      replay queued form submissions
  POST /.offline-cache/refresh   revalidate every cached response
  GET  /.offline-cache/stores    list the cache stores

Examples:
  offline-cache serve --origin https://example.com
  offline-cache serve --config offline-cache.yaml -v`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, config.Provider, config.DB)
	if err != nil {
		return err
	}
	defer b.Close()
	engineConfig, err := config.engineConfig(b, true)
	if err != nil {
		return err
	}
	e, err := offlinecache.New(engineConfig)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: newRouter(e, engineConfig.SyncTag, log.Logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server")
		}
	}()

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, engineConfig.OriginURL.String(), engineConfig.OriginHost)
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Close(closeCtx)
}

// newRouter serves the control routes and hands everything else to the engine.
func newRouter(e *offlinecache.Engine, syncTag string, logger zerolog.Logger) http.Handler {
	if syncTag == "" {
		syncTag = offlinecache.DefaultSyncTag
	}
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Served request")
	}))

	r.Route(controlPrefix, func(r chi.Router) {
		r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
			tag := r.URL.Query().Get("tag")
			if tag == "" {
				tag = syncTag
			}
			result, err := e.Sync(r.Context(), tag)
			if errors.Is(err, offlinecache.ErrNoQueue) {
				writeJSON(w, r, http.StatusNotImplemented, map[string]string{"error": err.Error()})
				return
			}
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("Sync failed")
				writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, r, http.StatusOK, map[string]int{
				"delivered": result.Delivered,
				"failed":    result.Failed,
			})
		})
		r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
			failed, err := e.RefreshAll(r.Context())
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("Refresh incomplete")
			}
			status := http.StatusOK
			if failed > 0 {
				status = http.StatusBadGateway
			}
			writeJSON(w, r, status, map[string]int{"failed": failed})
		})
		r.Get("/stores", func(w http.ResponseWriter, r *http.Request) {
			names, err := e.Stores()
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("Could not list stores")
				writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, r, http.StatusOK, map[string]any{
				"stores": names,
				"state":  e.State().String(),
				"online": e.Online(),
			})
		})
	})
	r.Handle("/*", e)
	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
