package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	hostFlag           string
	portFlag           int
	dbFilenameFlag     string
	providerFlag       string
	logFilenameFlag    string
	verbosityFlag      int
)

var rootCmd = &cobra.Command{
	Use:   "offline-cache",
	Short: "Offline-first caching proxy for a website",
	Long: `Offline-first caching proxy for a website.

Static assets are served cache-first, API calls network-first and documents
stale-while-revalidate. Form submissions that fail while offline are queued
and replayed once the origin is reachable again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		return setupLogging()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("offline-cache version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flags.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flags.StringVar(&hostFlag, "host", "", "Hostname of origin, if the origin URL is an IP address")
	flags.IntVar(&portFlag, "port", defaultPort, "Port to listen on")
	flags.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file or directory (use 'memory' for in-memory db)")
	flags.StringVar(&providerFlag, "provider", "sqlite", "Caching provider to use (sqlite, leveldb, memory)")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	flags.CountVarP(&verbosityFlag, "verbose", "v", "Verbosity: -v for debug, -vv for trace logging")
}

// setupLogging logs to stdout and, if specified, to a log file.
func setupLogging() error {
	logLevel := zerolog.InfoLevel
	switch {
	case verbosityFlag >= 2:
		logLevel = zerolog.TraceLevel
	case verbosityFlag == 1:
		logLevel = zerolog.DebugLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return nil
}
