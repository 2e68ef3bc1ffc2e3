// Package config handles configuration loading for board-gateway.
//
// Configuration is read from one YAML file. The default location is
// $BOARD_CONFIG, then $XDG_CONFIG_HOME/board/gateway.yaml, then
// ~/.config/board/gateway.yaml.
//
// Values may reference environment variables with ${VAR_NAME}; unset
// variables expand to the empty string:
//
//	auth:
//	  jwt_secret: "${BOARD_JWT_SECRET}"
//
// Durations use time.ParseDuration syntax. The board section tunes
// synchronization and falls back to package defaults when omitted:
//
//	board:
//	  revert_delay: "300ms"     # pause before a rejected optimistic change is undone
//	  pending_timeout: "10s"    # unanswered optimistic changes force a resync
//	  dedupe_ttl: "5m"          # how long request ids are remembered
//	  dedupe_max_entries: 10000
//	  send_buffer: 64           # per-connection outbound queue
//
// Setting redis.addr switches sequencing, dedupe and room fan-out to Redis so
// several gateway instances can serve the same boards.
package config
