// ABOUTME: Tests for configuration loading, expansion, and validation
// ABOUTME: Covers env var substitution, duration parsing, defaults, and required fields

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatseam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
server:
  http_addr: ":8080"
database:
  path: "/tmp/chatseam.db"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/chatseam.db", cfg.Database.Path)
	assert.False(t, cfg.Relay.Enabled)
	assert.False(t, cfg.Responder.Enabled)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultEventTTL, cfg.Redis.EventTTL)
	assert.Equal(t, DefaultRelayTimeout, cfg.Relay.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.Stream.PollInterval)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, DefaultChunkSize, cfg.Retriever.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.Retriever.ChunkOverlap)
	assert.Equal(t, DefaultTopK, cfg.Retriever.TopK)
	assert.Equal(t, DefaultMaxContextChars, cfg.Retriever.MaxContextChars)
	assert.Equal(t, DefaultChunkCacheTTL, cfg.Retriever.CacheTTL)
	assert.Equal(t, DefaultResponderTimeout, cfg.Responder.Timeout)
}

func TestLoad_ParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/chatseam.db"
redis:
  event_ttl: "90s"
relay:
  timeout: "3s"
stream:
  poll_interval: "250ms"
  heartbeat_interval: "15s"
retriever:
  cache_ttl: "1h"
responder:
  timeout: "45s"
`))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Redis.EventTTL)
	assert.Equal(t, 3*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, time.Hour, cfg.Retriever.CacheTTL)
	assert.Equal(t, 45*time.Second, cfg.Responder.Timeout)
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/chatseam.db"
stream:
  poll_interval: "fast"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.poll_interval")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("CHATSEAM_TEST_TOKEN", "secret-token")
	t.Setenv("CHATSEAM_TEST_ADDR", ":9090")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "${CHATSEAM_TEST_ADDR}"
database:
  path: "/tmp/chatseam.db"
relay:
  enabled: true
  base_url: "https://relay.example"
  channel_id: "channel-1"
  api_token: "${CHATSEAM_TEST_TOKEN}"
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "secret-token", cfg.Relay.APIToken)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "${CHATSEAM_DEFINITELY_UNSET_VAR}"
database:
  path: "/tmp/chatseam.db"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.http_addr is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name: "relay enabled without base url",
			mutate: func(c *Config) {
				c.Relay.Enabled = true
				c.Relay.ChannelID = "channel-1"
			},
			wantErr: "relay.base_url",
		},
		{
			name: "relay enabled without channel",
			mutate: func(c *Config) {
				c.Relay.Enabled = true
				c.Relay.BaseURL = "https://relay.example"
			},
			wantErr: "relay.channel_id",
		},
		{
			name:    "responder enabled without endpoint",
			mutate:  func(c *Config) { c.Responder.Enabled = true },
			wantErr: "responder.endpoint",
		},
		{
			name: "overlap not smaller than chunk size",
			mutate: func(c *Config) {
				c.Retriever.ChunkSize = 100
				c.Retriever.ChunkOverlap = 100
			},
			wantErr: "chunk_overlap",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: ":8080"},
				Database: DatabaseConfig{Path: "/tmp/chatseam.db"},
			}
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
