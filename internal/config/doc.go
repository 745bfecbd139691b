// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a missing file is not an error for
// the serve command: Default plus the legacy environment variables is enough
// to run against an OpenAI-compatible endpoint.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/gateway.yaml
//  3. ~/.config/parley/gateway.yaml
//
// A path ending in .toml is decoded as TOML.
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}. In addition
// MODEL_NAME, API_KEY and API_URL fill empty provider fields, and PORT
// replaces the port of server.http_addr.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:3000"
//
//	provider:
//	  kind: "openai"          # openai, anthropic, echo
//	  model: "${MODEL_NAME}"
//	  api_key: "${API_KEY}"
//	  base_url: "${API_URL}"  # any OpenAI-compatible endpoint
//	  timeout: "2m"
//	  max_concurrent: 16
//
//	prompts:
//	  chat: "You are a helpful AI assistant..."
//	  translate: "You are a helpful assistant that translates Chinese to English..."
//
//	sessions:
//	  default_id: "default"
//	  max_turns: 20   # high-water mark
//	  keep_turns: 10  # turns kept after trimming
//
//	database:
//	  path: ":memory:"  # usage ledger, never conversation content
//
//	usage:
//	  tokenizer: "cl100k_base"  # or "estimate"
//	  retention: "720h"
//	  prune_schedule: "@every 1h"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
