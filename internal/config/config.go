// ABOUTME: Configuration loading and parsing for chatseam
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatseam configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Relay     RelayConfig     `yaml:"relay"`
	Stream    StreamConfig    `yaml:"stream"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Responder ResponderConfig `yaml:"responder"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the event bus / chunk cache backend configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// EventTTL bounds how long published events stay pollable.
	// Events are a delivery hint, not the system of record.
	EventTTL    time.Duration `yaml:"-"`
	EventTTLRaw string        `yaml:"event_ttl"`
}

// RelayConfig holds the external threaded-chat service configuration
type RelayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIToken  string `yaml:"api_token"`
	ChannelID string `yaml:"channel_id"`
	BotName   string `yaml:"bot_name"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// StreamConfig holds live-stream pacing configuration
type StreamConfig struct {
	PollInterval      time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw      string `yaml:"poll_interval"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// RetrieverConfig holds chunking and context selection configuration
type RetrieverConfig struct {
	ChunkSize       int `yaml:"chunk_size"`
	ChunkOverlap    int `yaml:"chunk_overlap"`
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`

	CacheTTL    time.Duration `yaml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl"`
}

// ResponderConfig holds automated reply configuration. Endpoint points at
// the external completion service that turns a transcript into a reply.
type ResponderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	APIToken     string `yaml:"api_token"`
	SystemPrompt string `yaml:"system_prompt"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding config values are absent.
const (
	DefaultEventTTL          = 5 * time.Minute
	DefaultRelayTimeout      = 8 * time.Second
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultChunkSize         = 1200
	DefaultChunkOverlap      = 200
	DefaultTopK              = 4
	DefaultMaxContextChars   = 6000
	DefaultChunkCacheTTL     = 24 * time.Hour
	DefaultResponderTimeout  = 30 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Relay.Enabled {
		if c.Relay.BaseURL == "" {
			return fmt.Errorf("relay.base_url is required when relay is enabled")
		}
		if c.Relay.ChannelID == "" {
			return fmt.Errorf("relay.channel_id is required when relay is enabled")
		}
	}

	if c.Responder.Enabled && c.Responder.Endpoint == "" {
		return fmt.Errorf("responder.endpoint is required when responder is enabled")
	}

	if c.Retriever.ChunkSize > 0 && c.Retriever.ChunkOverlap >= c.Retriever.ChunkSize {
		return fmt.Errorf("retriever.chunk_overlap must be smaller than retriever.chunk_size")
	}

	return nil
}

// applyDefaults fills zero-valued tunables with their defaults
func (c *Config) applyDefaults() {
	if c.Redis.EventTTL <= 0 {
		c.Redis.EventTTL = DefaultEventTTL
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = DefaultRelayTimeout
	}
	if c.Stream.PollInterval <= 0 {
		c.Stream.PollInterval = DefaultPollInterval
	}
	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Retriever.ChunkSize <= 0 {
		c.Retriever.ChunkSize = DefaultChunkSize
	}
	if c.Retriever.ChunkOverlap <= 0 {
		c.Retriever.ChunkOverlap = DefaultChunkOverlap
	}
	if c.Retriever.TopK <= 0 {
		c.Retriever.TopK = DefaultTopK
	}
	if c.Retriever.MaxContextChars <= 0 {
		c.Retriever.MaxContextChars = DefaultMaxContextChars
	}
	if c.Retriever.CacheTTL <= 0 {
		c.Retriever.CacheTTL = DefaultChunkCacheTTL
	}
	if c.Responder.Timeout <= 0 {
		c.Responder.Timeout = DefaultResponderTimeout
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Redis.EventTTLRaw, &cfg.Redis.EventTTL, "redis.event_ttl"},
		{cfg.Relay.TimeoutRaw, &cfg.Relay.Timeout, "relay.timeout"},
		{cfg.Stream.PollIntervalRaw, &cfg.Stream.PollInterval, "stream.poll_interval"},
		{cfg.Stream.HeartbeatIntervalRaw, &cfg.Stream.HeartbeatInterval, "stream.heartbeat_interval"},
		{cfg.Retriever.CacheTTLRaw, &cfg.Retriever.CacheTTL, "retriever.cache_ttl"},
		{cfg.Responder.TimeoutRaw, &cfg.Responder.Timeout, "responder.timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
