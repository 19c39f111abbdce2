package offlinecache

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/always-cache/offline-cache/cache"
	routerules "github.com/always-cache/offline-cache/pkg/route-rules"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog"
)

const (
	DefaultVersion        = "v1"
	DefaultCacheName      = "offline-cache"
	DefaultRuntimeCache   = "runtime"
	DefaultAPIPrefix      = "/api/"
	DefaultNetworkTimeout = 3 * time.Second
	DefaultSyncTag        = "sync-contact-form"
	DefaultProbePath      = "/"
)

// DefaultStaticExtensions are served cache-first.
var DefaultStaticExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".svg", ".ico",
	".woff", ".woff2", ".ttf", ".otf", ".eot",
	".css", ".js", ".json",
}

type Config struct {
	// Storage for the response caches.
	// An in-memory storage is used if nil.
	Storage cache.Storage
	// Queue for form submissions that could not be delivered.
	// Submissions are never deferred if nil.
	Queue queue.Queue
	// The network. Takes precedence over OriginURL.
	Fetcher Fetcher
	// URL of the origin server, used when no Fetcher is given.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Optional function for mutating the incoming request.
	RequestModifier func(*http.Request)

	// Deployment version, part of the primary store name.
	Version string
	// Prefix of the primary store name, i.e. `<CacheName>-<Version>`.
	CacheName string
	// Name of the unversioned runtime store.
	RuntimeCache string
	// Paths (or absolute URLs) stored in the primary store on install.
	InstallAssets []string
	// Document served to navigations when both network and cache fail, e.g. "/offline.html".
	// It is added to InstallAssets if missing. No offline document if empty.
	OfflinePage string

	// Paths with this prefix are handled network-first.
	APIPrefix string
	// File extensions handled cache-first.
	StaticExtensions []string
	// Rules that take precedence over the built-in routing.
	Rules routerules.Rules
	// How long network-first waits for the network before using the cache.
	NetworkTimeout time.Duration
	// Cancel network requests that lost the race against NetworkTimeout.
	// By default they are left to finish and their responses are discarded.
	CancelLateNetwork bool

	// Tag of the connectivity signal that replays deferred submissions.
	SyncTag string
	// Paths whose non-GET requests are deferred when the network fails.
	SyncPaths []string
	// Path requested by the connectivity watcher.
	ProbePath string
	// Interval of the connectivity watcher. The watcher is off if zero.
	ProbeInterval time.Duration
}

// withDefaults returns a copy of the config with the defaults applied.
func (c Config) withDefaults() Config {
	if c.Storage == nil {
		c.Storage = cache.NewMemoryStorage()
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.CacheName == "" {
		c.CacheName = DefaultCacheName
	}
	if c.RuntimeCache == "" {
		c.RuntimeCache = DefaultRuntimeCache
	}
	c.InstallAssets = slices.Clone(c.InstallAssets)
	if c.OfflinePage != "" && !slices.Contains(c.InstallAssets, c.OfflinePage) {
		c.InstallAssets = append(c.InstallAssets, c.OfflinePage)
	}
	if c.APIPrefix == "" {
		c.APIPrefix = DefaultAPIPrefix
	}
	if c.StaticExtensions == nil {
		c.StaticExtensions = DefaultStaticExtensions
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = DefaultNetworkTimeout
	}
	if c.SyncTag == "" {
		c.SyncTag = DefaultSyncTag
	}
	if c.ProbePath == "" {
		c.ProbePath = DefaultProbePath
	}
	return c
}

// PrimaryCacheName is the name of the versioned store filled on install.
func (c Config) PrimaryCacheName() string {
	return c.CacheName + "-" + c.Version
}

func (c Config) validate() error {
	if c.Fetcher == nil && c.OriginURL.Host == "" {
		return fmt.Errorf("either a fetcher or an origin URL is required")
	}
	if c.PrimaryCacheName() == c.RuntimeCache {
		return fmt.Errorf("primary and runtime cache names must differ: %s", c.RuntimeCache)
	}
	if c.NetworkTimeout < 0 {
		return fmt.Errorf("negative network timeout: %s", c.NetworkTimeout)
	}
	return c.Rules.Validate()
}

// validateTransport checks that the paths the engine requests on its own
// can be sent by a client, i.e. are absolute or have an origin to resolve against.
func (c Config) validateTransport() error {
	if c.OriginURL.Host != "" {
		return nil
	}
	paths := slices.Clone(c.InstallAssets)
	if c.ProbeInterval > 0 {
		paths = append(paths, c.ProbePath)
	}
	for _, path := range paths {
		u, err := url.Parse(path)
		if err != nil {
			return fmt.Errorf("invalid path %q: %w", path, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("relative path %q needs an origin URL to resolve against", path)
		}
	}
	return nil
}
