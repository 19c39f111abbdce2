package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	routerules "github.com/always-cache/offline-cache/pkg/route-rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigFile = `
origin: https://example.com
port: 9090
version: v7
installAssets:
  - /
  - /app.js
offlinePage: /offline.html
networkTimeout: 1500ms
syncPaths: [/api/contact]
probeInterval: 30s
rules:
  - prefix: /admin/
    strategy: bypass
  - path: /feed.xml
    strategy: cache-first
    headers:
      Cache-Control: max-age=60
`

func TestGetConfigFromFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "offline-cache.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(testConfigFile), 0644))

	config, err := getConfig(filename)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", config.Origin)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "v7", config.Version)
	assert.Equal(t, []string{"/", "/app.js"}, config.InstallAssets)
	assert.Equal(t, "/offline.html", config.OfflinePage)
	assert.Equal(t, 1500*time.Millisecond, config.NetworkTimeout)
	assert.Equal(t, []string{"/api/contact"}, config.SyncPaths)
	assert.Equal(t, 30*time.Second, config.ProbeInterval)
	require.Len(t, config.Rules, 2)
	assert.Equal(t, routerules.Bypass, config.Rules[0].Strategy)
	assert.Equal(t, "max-age=60", config.Rules[1].Headers["Cache-Control"])
}

func TestGetConfigMissingFile(t *testing.T) {
	_, err := getConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OFFLINE_CACHE_ORIGIN":              "http://localhost:3000",
		"OFFLINE_CACHE_PORT":                "8181",
		"OFFLINE_CACHE_SYNC_PATHS":          "/api/contact, /api/newsletter/,",
		"OFFLINE_CACHE_NETWORK_TIMEOUT":     "2s",
		"OFFLINE_CACHE_CANCEL_LATE_NETWORK": "true",
	}
	config := Config{Origin: "https://example.com", Version: "v2"}

	require.NoError(t, config.applyEnv(func(name string) string { return env[name] }))

	assert.Equal(t, "http://localhost:3000", config.Origin)
	assert.Equal(t, "v2", config.Version)
	assert.Equal(t, 8181, config.Port)
	assert.Equal(t, []string{"/api/contact", "/api/newsletter/"}, config.SyncPaths)
	assert.Equal(t, 2*time.Second, config.NetworkTimeout)
	assert.True(t, config.CancelLateNetwork)
}

func TestApplyEnvInvalid(t *testing.T) {
	for name, value := range map[string]string{
		"OFFLINE_CACHE_PORT":                "eighty",
		"OFFLINE_CACHE_PROBE_INTERVAL":      "often",
		"OFFLINE_CACHE_CANCEL_LATE_NETWORK": "maybe",
	} {
		config := Config{}
		err := config.applyEnv(func(n string) string {
			if n == name {
				return value
			}
			return ""
		})
		assert.ErrorContains(t, err, name)
	}
}

func TestEngineConfig(t *testing.T) {
	b := &backend{storage: cache.NewMemoryStorage()}

	config, err := Config{Origin: "https://10.0.0.1/", Host: "example.com", SyncTag: "sync-orders"}.engineConfig(b, true)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", config.OriginURL.Host)
	assert.Equal(t, "", config.OriginURL.Path)
	assert.Equal(t, "example.com", config.OriginHost)
	assert.Equal(t, "sync-orders", config.SyncTag)
	assert.Nil(t, config.Fetcher)

	_, err = Config{Origin: "https://example.com/blog"}.engineConfig(b, true)
	assert.ErrorContains(t, err, "paths are not supported")
	_, err = Config{Origin: "example.com"}.engineConfig(b, true)
	assert.ErrorContains(t, err, "absolute URL")
	_, err = Config{}.engineConfig(b, true)
	assert.ErrorContains(t, err, "origin")
}

func TestEngineConfigWithoutOrigin(t *testing.T) {
	b := &backend{storage: cache.NewMemoryStorage()}
	config, err := Config{}.engineConfig(b, false)
	require.NoError(t, err)
	require.NotNil(t, config.Fetcher)

	e, err := offlinecache.New(config)
	require.NoError(t, err)
	names, err := e.Stores()
	require.NoError(t, err)
	assert.Contains(t, names, offlinecache.DefaultRuntimeCache)
}
