package main

import (
	"context"
	"fmt"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [tag]",
	Short: "Replay queued form submissions",
	Long: `Replay the form submissions queued while the origin was unreachable.

Delivered submissions are removed from the queue, failed ones are kept for
the next sync. Without a tag, the configured sync tag is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Revalidate every cached response",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List the cache stores",
	Args:  cobra.NoArgs,
	RunE:  runStores,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the stores of other versions",
	Long: `Delete every store other than the current versioned store and the runtime store,
as happens on activation.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(syncCmd, refreshCmd, storesCmd, pruneCmd)
}

// withEngine runs fn with an engine on the configured backend.
// The engine is neither installed nor activated.
func withEngine(cmd *cobra.Command, requireOrigin bool, fn func(context.Context, *offlinecache.Engine, offlinecache.Config) error) error {
	ctx := cmd.Context()
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, config.Provider, config.DB)
	if err != nil {
		return err
	}
	defer b.Close()
	engineConfig, err := config.engineConfig(b, requireOrigin)
	if err != nil {
		return err
	}
	e, err := offlinecache.New(engineConfig)
	if err != nil {
		return err
	}
	// delayed cache updates still run before the db is closed
	defer e.Close(context.Background())
	return fn(ctx, e, engineConfig)
}

func runSync(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, true, func(ctx context.Context, e *offlinecache.Engine, config offlinecache.Config) error {
		tag := config.SyncTag
		if len(args) > 0 {
			tag = args[0]
		}
		if tag == "" {
			tag = offlinecache.DefaultSyncTag
		}
		result, err := e.Sync(ctx, tag)
		if err != nil {
			return err
		}
		fmt.Printf("Delivered: %d\n", result.Delivered)
		fmt.Printf("Failed: %d\n", result.Failed)
		return nil
	})
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, true, func(ctx context.Context, e *offlinecache.Engine, _ offlinecache.Config) error {
		failed, err := e.RefreshAll(ctx)
		if failed > 0 {
			fmt.Printf("Not refreshed: %d\n", failed)
		}
		return err
	})
}

func runStores(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, false, func(ctx context.Context, e *offlinecache.Engine, _ offlinecache.Config) error {
		names, err := e.Stores()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	})
}

func runPrune(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, false, func(ctx context.Context, e *offlinecache.Engine, _ offlinecache.Config) error {
		deleted, err := e.Prune()
		for _, name := range deleted {
			fmt.Printf("Deleted %s\n", name)
		}
		if len(deleted) == 0 && err == nil {
			fmt.Println("Nothing to prune")
		}
		return err
	})
}
