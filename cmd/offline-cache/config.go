package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	routerules "github.com/always-cache/offline-cache/pkg/route-rules"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort = 8080
	envPrefix   = "OFFLINE_CACHE_"
)

var errNoOrigin = errors.New("no origin configured")

// Config is the config file of the CLI.
type Config struct {
	Origin   string `yaml:"origin"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
	Provider string `yaml:"provider"`

	Version          string           `yaml:"version"`
	CacheName        string           `yaml:"cacheName"`
	RuntimeCache     string           `yaml:"runtimeCache"`
	InstallAssets    []string         `yaml:"installAssets"`
	OfflinePage      string           `yaml:"offlinePage"`
	APIPrefix        string           `yaml:"apiPrefix"`
	StaticExtensions []string         `yaml:"staticExtensions"`
	Rules            routerules.Rules `yaml:"rules"`

	NetworkTimeout    time.Duration `yaml:"networkTimeout"`
	CancelLateNetwork bool          `yaml:"cancelLateNetwork"`

	SyncTag       string        `yaml:"syncTag"`
	SyncPaths     []string      `yaml:"syncPaths"`
	ProbePath     string        `yaml:"probePath"`
	ProbeInterval time.Duration `yaml:"probeInterval"`
}

// getConfig reads the config file (if any), then applies the environment.
// A .env file in the working directory is loaded into the environment first.
func getConfig(filename string) (Config, error) {
	var config Config
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("load .env: %w", err)
	}
	err := config.applyEnv(os.Getenv)
	return config, err
}

// applyEnv overrides the config with OFFLINE_CACHE_* variables.
// Lists are comma separated.
func (c *Config) applyEnv(getenv func(string) string) error {
	values := map[string]*string{
		"ORIGIN":        &c.Origin,
		"HOST":          &c.Host,
		"DB":            &c.DB,
		"PROVIDER":      &c.Provider,
		"VERSION":       &c.Version,
		"CACHE_NAME":    &c.CacheName,
		"RUNTIME_CACHE": &c.RuntimeCache,
		"OFFLINE_PAGE":  &c.OfflinePage,
		"API_PREFIX":    &c.APIPrefix,
		"SYNC_TAG":      &c.SyncTag,
		"PROBE_PATH":    &c.ProbePath,
	}
	for name, field := range values {
		if value := getenv(envPrefix + name); value != "" {
			*field = value
		}
	}

	lists := map[string]*[]string{
		"INSTALL_ASSETS":    &c.InstallAssets,
		"STATIC_EXTENSIONS": &c.StaticExtensions,
		"SYNC_PATHS":        &c.SyncPaths,
	}
	for name, field := range lists {
		if value := getenv(envPrefix + name); value != "" {
			*field = splitList(value)
		}
	}

	durations := map[string]*time.Duration{
		"NETWORK_TIMEOUT": &c.NetworkTimeout,
		"PROBE_INTERVAL":  &c.ProbeInterval,
	}
	for name, field := range durations {
		if value := getenv(envPrefix + name); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*field = d
		}
	}

	if value := getenv(envPrefix + "PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Port = port
	}
	if value := getenv(envPrefix + "CANCEL_LATE_NETWORK"); value != "" {
		cancelLate, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%sCANCEL_LATE_NETWORK: %w", envPrefix, err)
		}
		c.CancelLateNetwork = cancelLate
	}
	return nil
}

func splitList(value string) []string {
	list := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// applyFlags overrides the config with the flags set on the command line.
// Flag defaults are used for values that are still empty.
func (c *Config) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("origin") {
		c.Origin = originFlag
	}
	if flags.Changed("host") {
		c.Host = hostFlag
	}
	if flags.Changed("port") || c.Port == 0 {
		c.Port = portFlag
	}
	if flags.Changed("db") || c.DB == "" {
		c.DB = dbFilenameFlag
	}
	if flags.Changed("provider") || c.Provider == "" {
		c.Provider = providerFlag
	}
}

// loadConfig builds the config of a command from file, environment and flags.
func loadConfig(cmd *cobra.Command) (Config, error) {
	config, err := getConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	config.applyFlags(cmd)
	return config, nil
}

// engineConfig converts the CLI config for the given backend.
// Without an origin, every network request fails, unless one is required.
func (c Config) engineConfig(b *backend, requireOrigin bool) (offlinecache.Config, error) {
	logger := log.Logger
	config := offlinecache.Config{
		Storage:           b.storage,
		Queue:             b.queue,
		Logger:            &logger,
		Version:           c.Version,
		CacheName:         c.CacheName,
		RuntimeCache:      c.RuntimeCache,
		InstallAssets:     c.InstallAssets,
		OfflinePage:       c.OfflinePage,
		APIPrefix:         c.APIPrefix,
		StaticExtensions:  c.StaticExtensions,
		Rules:             c.Rules,
		NetworkTimeout:    c.NetworkTimeout,
		CancelLateNetwork: c.CancelLateNetwork,
		SyncTag:           c.SyncTag,
		SyncPaths:         c.SyncPaths,
		ProbePath:         c.ProbePath,
		ProbeInterval:     c.ProbeInterval,
	}

	if c.Origin == "" {
		if requireOrigin {
			return config, fmt.Errorf("please specify origin")
		}
		config.Fetcher = offlinecache.FetcherFunc(func(context.Context, *http.Request) (*http.Response, error) {
			return nil, errNoOrigin
		})
		return config, nil
	}

	originURL, err := url.Parse(c.Origin)
	if err != nil {
		return config, fmt.Errorf("could not parse origin: %w", err)
	}
	if originURL.Host == "" {
		return config, fmt.Errorf("origin must be an absolute URL: %s", c.Origin)
	}
	if originURL.Path != "" && originURL.Path != "/" {
		return config, fmt.Errorf("origins with paths are not supported: %s", c.Origin)
	}
	originURL.Path = ""
	config.OriginURL = *originURL
	config.OriginHost = c.Host
	return config, nil
}
