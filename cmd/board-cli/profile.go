// ABOUTME: TOML profile for board-cli
// ABOUTME: Resolves gateway url, token, project and board defaults from flags, env and the profile file

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Profile is the on-disk CLI configuration.
type Profile struct {
	Gateway GatewayProfile `toml:"gateway"`
	Auth    AuthProfile    `toml:"auth"`
	Board   BoardProfile   `toml:"board"`
	Logging LoggingProfile `toml:"logging"`
}

type GatewayProfile struct {
	URL string `toml:"url"`
}

type AuthProfile struct {
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
}

type BoardProfile struct {
	Project        string `toml:"project"`
	RevertDelay    string `toml:"revert_delay"`
	PendingTimeout string `toml:"pending_timeout"`
	Wait           string `toml:"wait"` // how long one-shot commands wait for the outcome
}

type LoggingProfile struct {
	Level string `toml:"level"`
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "board")
}

func defaultProfilePath() string {
	return filepath.Join(configDir(), "cli.toml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

// LoadProfile reads path. A missing file yields an empty profile.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	if _, err := toml.Decode(expandEnvVars(string(data)), &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return &p, nil
}

// Settings are the resolved values a command runs with.
type Settings struct {
	URL            string
	Token          string
	Project        string
	RevertDelay    time.Duration
	PendingTimeout time.Duration
	Wait           time.Duration
	LogLevel       string
}

// Overrides are the values given on the command line.
type Overrides struct {
	URL     string
	Token   string
	Project string
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("board.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("board.%s must not be negative", field)
	}
	return d, nil
}

// Resolve merges flags, environment and profile, in that order of precedence.
func (p *Profile) Resolve(o Overrides) (*Settings, error) {
	first := func(vals ...string) string {
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	s := &Settings{
		URL:      first(o.URL, os.Getenv("BOARD_URL"), p.Gateway.URL, "ws://localhost:8080/ws"),
		Token:    first(o.Token, os.Getenv("BOARD_TOKEN"), p.Auth.Token),
		Project:  first(o.Project, os.Getenv("BOARD_PROJECT"), p.Board.Project),
		LogLevel: first(p.Logging.Level, "warn"),
	}

	if s.Token == "" {
		tokenFile := first(p.Auth.TokenFile, filepath.Join(configDir(), "token"))
		if data, err := os.ReadFile(tokenFile); err == nil {
			s.Token = strings.TrimSpace(string(data))
		}
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("gateway url must use ws or wss, got %q", u.Scheme)
	}

	if s.RevertDelay, err = parseDuration("revert_delay", p.Board.RevertDelay, 300*time.Millisecond); err != nil {
		return nil, err
	}
	if s.PendingTimeout, err = parseDuration("pending_timeout", p.Board.PendingTimeout, 10*time.Second); err != nil {
		return nil, err
	}
	if s.Wait, err = parseDuration("wait", p.Board.Wait, 15*time.Second); err != nil {
		return nil, err
	}
	return s, nil
}
