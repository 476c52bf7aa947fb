// Package config handles configuration loading for coven-relay.
//
// # Configuration File
//
// Locations are tried in order:
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/relay.yaml
//  3. ~/.config/coven/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	completion:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	delivery:
//	  poll_interval: "2s"
//	  cooldown_base: "10s"
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	storage:
//	  backend: sqlite
//	  path: /var/lib/coven-relay/conversations.db
//	queue:
//	  backend: file
//	  dir: /var/lib/coven-relay/queue
//	channel:
//	  base_url: "http://localhost:21465"
//	  session: default
//	  token: "${CHANNEL_TOKEN}"
//	completion:
//	  base_url: "https://api.openai.com"
//	  api_key: "${OPENAI_API_KEY}"
//	  model: gpt-4o
//	  persona_file: /etc/coven-relay/persona.toml
//	transcription:
//	  enabled: true
//	  base_url: "https://api.openai.com"
//	  api_key: "${OPENAI_API_KEY}"
//	speech:
//	  enabled: true
//	  base_url: "https://api.elevenlabs.io"
//	  api_key: "${ELEVENLABS_API_KEY}"
//	  voice_id: "21m00Tcm4TlvDq8ikWAM"
//	operator:
//	  matrix:
//	    enabled: true
//	    homeserver: "https://matrix.org"
//	    user_id: "@relay:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    room_id: "!ops:matrix.org"
//	auth:
//	  jwt_secret: "${COVEN_RELAY_JWT_SECRET}"
//
// Sections not shown fall back to defaults; see applyDefaults.
package config
