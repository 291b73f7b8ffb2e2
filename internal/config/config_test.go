package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  url: ws://feed.example.com/events
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.Upstream.HandshakeTimeoutSec)
	assert.Equal(t, 1, cfg.Upstream.BackoffMinSec)
	assert.Equal(t, 30, cfg.Upstream.BackoffMaxSec)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
	assert.Equal(t, "/login", cfg.Auth.LoginURL)
	assert.Equal(t, 200, cfg.HistoryLimit)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
data_directory: "/tmp/pb"
upstream:
  url: wss://feed.example.com/events
  backoff_min_seconds: 2
  backoff_max_seconds: 60
auth:
  tokens: ["a", "b"]
  login_url: /signin
delivery:
  timeout_seconds: 5
  max_attempts: 4
invalidations:
  - topic: "webhooks."
    keys: ["webhooks"]
cache_ttl_seconds: 15
history_limit: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "wss://feed.example.com/events", cfg.Upstream.URL)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.Tokens)
	assert.Equal(t, "/signin", cfg.Auth.LoginURL)
	assert.Equal(t, 4, cfg.Delivery.MaxAttempts)
	require.Len(t, cfg.Invalidations, 1)
	assert.Equal(t, "webhooks.", cfg.Invalidations[0].Topic)
	assert.Equal(t, 50, cfg.HistoryLimit)
}

func TestLoadRejectsMissingUpstream(t *testing.T) {
	path := writeConfig(t, `listen_addr: ":9090"`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "upstream.url")
}

func TestLoadRejectsNonWebsocketUpstream(t *testing.T) {
	path := writeConfig(t, `
upstream:
  url: https://feed.example.com/events
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "ws://")
}

func TestLoadRejectsInvalidationWithoutKeys(t *testing.T) {
	path := writeConfig(t, `
upstream:
  url: ws://feed.example.com/events
invalidations:
  - topic: "jobs."
    keys: []
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "query key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
