// Package config handles configuration loading for coven-assistant.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Anything the file omits keeps the value from Default(), so an empty file
// yields a runnable server: echo agent, in-memory store, metrics on /metrics.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_ASSISTANT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/assistant.yaml
//  3. ~/.config/coven/assistant.yaml
//
// A .env file in the working directory is loaded before the config file is read.
//
// # Environment Variable Expansion
//
//	agent:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//	  shutdown_timeout: "10s"
//	  cors_allowed_origins: ["*"]
//
//	database:
//	  path: ":memory:"          # or a SQLite file path
//
//	agent:
//	  provider: "echo"          # echo, openai, ollama, anthropic
//	  model: ""
//	  base_url: ""
//	  api_key: ""
//	  system_prompt: ""
//
//	defaults:
//	  user_id: "default_user"
//	  title: "New Chat"
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Validate requires server.http_addr and a supported agent.provider, and
// a metrics path beginning with "/" when metrics are enabled.
package config
