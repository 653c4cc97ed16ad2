// Package config handles configuration loading for chatseam.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATSEAM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatseam/chatseam.yaml
//  3. ~/.config/chatseam/chatseam.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	relay:
//	  api_token: "${CHATSEAM_RELAY_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  poll_interval: "1s"
//	  heartbeat_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/chatseam/chatseam.db"
//
// Redis (event bus and chunk cache; leave addr empty for in-memory):
//
//	redis:
//	  addr: "localhost:6379"
//	  event_ttl: "5m"
//
// Relay target:
//
//	relay:
//	  enabled: true
//	  base_url: "https://chat.example.com"
//	  api_token: "${CHATSEAM_RELAY_TOKEN}"
//	  channel_id: "support"
//	  bot_name: "chatseam"
//	  timeout: "8s"
//
// Retriever:
//
//	retriever:
//	  chunk_size: 1200
//	  chunk_overlap: 200
//	  top_k: 4
//	  max_context_chars: 6000
//	  cache_ttl: "24h"
//
// Responder:
//
//	responder:
//	  enabled: true
//	  endpoint: "https://llm.example.com/generate"
//	  system_prompt: "You are a helpful support assistant."
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/chatseam/chatseam.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
