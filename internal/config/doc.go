// Package config handles configuration loading for support-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SUPPORT_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/support-gateway/config.yaml
//  3. ~/.config/support-gateway/config.yaml
//
// A .env file in the working directory is loaded into the environment first,
// so secrets can stay out of the YAML.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${SUPPORT_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("1500ms", "30s", "24h").
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "/var/lib/support-gateway/support.db"
//
//	auth:
//	  jwt_secret: "${SUPPORT_JWT_SECRET}"   # at least 32 bytes
//
//	presence:
//	  backend: "redis"            # memory, redis
//	  redis_addr: "localhost:6379"
//	  debounce: "1500ms"
//	  idle_timeout: "4s"
//
//	knowledge:
//	  cache_ttl: "30s"
//	  cache_size: 1024
//
//	assistant:
//	  provider: "gemini"          # none, echo, gemini, openai, ollama
//	  api_key: "${GEMINI_API_KEY}"
//	  timeout: "30s"
//	  rate_per_minute: 60
//	  burst: 10
//	  inbound_per_minute: 30
//
//	dedupe:
//	  ttl: "24h"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
