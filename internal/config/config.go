// ABOUTME: Configuration loading and parsing for board-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to the board section when a field is left empty.
const (
	DefaultRevertDelay      = 300 * time.Millisecond
	DefaultPendingTimeout   = 10 * time.Second
	DefaultDedupeTTL        = 5 * time.Minute
	DefaultDedupeMaxEntries = 10000
	DefaultSendBuffer       = 64
	DefaultRedisPrefix      = "board"
)

// Config represents the complete board-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Board     BoardConfig     `yaml:"board"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AuthConfig holds authentication configuration. When JWTSecret is set,
// signed session tokens are accepted alongside stored sessions.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // serve over public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// AllowedOrigins are host patterns accepted on WebSocket upgrades in
	// addition to same-origin requests (e.g. "boards.example.com", "*.ts.net").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig enables multi-instance operation. With Addr empty the gateway
// runs standalone with in-process sequencing and dedupe.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// BoardConfig holds board synchronization tuning
type BoardConfig struct {
	RevertDelay      time.Duration `yaml:"-"`
	PendingTimeout   time.Duration `yaml:"-"`
	DedupeTTL        time.Duration `yaml:"-"`
	DedupeMaxEntries int           `yaml:"dedupe_max_entries"`
	SendBuffer       int           `yaml:"send_buffer"`

	// Raw string values for YAML unmarshaling
	RevertDelayRaw    string `yaml:"revert_delay"`
	PendingTimeoutRaw string `yaml:"pending_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Board.RevertDelay == 0 {
		c.Board.RevertDelay = DefaultRevertDelay
	}
	if c.Board.PendingTimeout == 0 {
		c.Board.PendingTimeout = DefaultPendingTimeout
	}
	if c.Board.DedupeTTL == 0 {
		c.Board.DedupeTTL = DefaultDedupeTTL
	}
	if c.Board.DedupeMaxEntries == 0 {
		c.Board.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if c.Board.SendBuffer == 0 {
		c.Board.SendBuffer = DefaultSendBuffer
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Board.RevertDelay < 0 || c.Board.PendingTimeout < 0 || c.Board.DedupeTTL < 0 {
		return fmt.Errorf("board durations must not be negative")
	}
	if c.Board.DedupeMaxEntries < 0 {
		return fmt.Errorf("board.dedupe_max_entries must not be negative")
	}
	if c.Board.SendBuffer < 0 {
		return fmt.Errorf("board.send_buffer must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"revert_delay", cfg.Board.RevertDelayRaw, &cfg.Board.RevertDelay},
		{"pending_timeout", cfg.Board.PendingTimeoutRaw, &cfg.Board.PendingTimeout},
		{"dedupe_ttl", cfg.Board.DedupeTTLRaw, &cfg.Board.DedupeTTL},
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
