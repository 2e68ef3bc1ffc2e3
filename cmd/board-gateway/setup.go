// ABOUTME: First-run setup commands for board-gateway
// ABOUTME: init writes a config interactively, bootstrap creates the first owner and a CLI token

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/board-gateway/internal/auth"
	"github.com/2389/board-gateway/internal/config"
	"github.com/2389/board-gateway/internal/store"
)

const tokenTTL = 30 * 24 * time.Hour

// gatewayConfig renders a config file. Optional sections are omitted when empty.
type gatewayConfig struct {
	HTTPAddr   string
	DBPath     string
	JWTSecret  string
	RedisAddr  string
	Tailscale  bool
	TSHostname string
	TSAuthKey  string
	TSFunnel   bool
	TSEphem    bool
	LogLevel   string
	LogFormat  string
	Generator  string
}

func (c gatewayConfig) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# board-gateway configuration\n# Generated by board-gateway %s\n\n", c.Generator)
	fmt.Fprintf(&b, "server:\n  http_addr: %q\n\n", c.HTTPAddr)
	fmt.Fprintf(&b, "database:\n  path: %q\n\n", c.DBPath)
	if c.JWTSecret != "" {
		fmt.Fprintf(&b, "auth:\n  jwt_secret: %q\n\n", c.JWTSecret)
	}
	if c.RedisAddr != "" {
		fmt.Fprintf(&b, "redis:\n  addr: %q\n\n", c.RedisAddr)
	}
	if c.Tailscale {
		fmt.Fprintf(&b, "tailscale:\n  enabled: true\n  hostname: %q\n", c.TSHostname)
		if c.TSAuthKey != "" {
			fmt.Fprintf(&b, "  auth_key: %q\n", c.TSAuthKey)
		}
		fmt.Fprintf(&b, "  ephemeral: %t\n  funnel: %t\n\n", c.TSEphem, c.TSFunnel)
	}
	fmt.Fprintf(&b, "board:\n  revert_delay: %q\n  pending_timeout: %q\n  dedupe_ttl: %q\n\n",
		config.DefaultRevertDelay, config.DefaultPendingTimeout, config.DefaultDedupeTTL)
	fmt.Fprintf(&b, "logging:\n  level: %q\n  format: %q\n", c.LogLevel, c.LogFormat)
	return b.String()
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func writeConfig(path string, c gatewayConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(c.render()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// runBootstrap creates the config (with a fresh JWT secret) if needed, the
// first user as owner of a project, and a signed token for the CLI.
func runBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	name := fs.String("name", "", "display name of the owner (required)")
	project := fs.String("project", "default", "project scope the owner is granted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	displayName := strings.TrimSpace(*name)
	switch {
	case displayName == "":
		return errors.New("--name is required")
	case len(displayName) > 100:
		return errors.New("display name exceeds maximum length of 100 characters")
	case strings.TrimSpace(*project) == "":
		return errors.New("--project must not be empty")
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		if err := writeConfig(configPath, gatewayConfig{
			Generator: "bootstrap",
			HTTPAddr:  "localhost:8080",
			DBPath:    filepath.Join(getDataPath(), "board.db"),
			JWTSecret: secret,
			LogLevel:  "info",
			LogFormat: "text",
		}); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	userID, err := createOwner(ctx, s, displayName, *project)
	if err != nil {
		return err
	}
	green.Printf("  ✓ Created owner: %s\n", displayName)

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(userID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	fmt.Printf("  User:     %s (%s)\n", displayName, userID)
	fmt.Printf("  Project:  %s (owner)\n", *project)
	fmt.Printf("  Token:    %s (expires %s)\n", tokenPath, time.Now().Add(tokenTTL).Format("Jan 02, 2006"))
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    board-gateway serve")
	fmt.Printf("    board-cli --project %s watch BOARD\n", *project)
	fmt.Println()
	return nil
}

// createOwner adds the first user and makes them owner of project. It
// refuses to run once any user exists.
func createOwner(ctx context.Context, s store.IdentityStore, displayName, project string) (string, error) {
	n, err := s.CountUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("checking users: %w", err)
	}
	if n > 0 {
		return "", fmt.Errorf("bootstrap already complete: %d user(s) exist", n)
	}

	userID := uuid.NewString()
	if err := s.CreateUser(ctx, &store.User{ID: userID, DisplayName: displayName}); err != nil {
		return "", fmt.Errorf("creating user: %w", err)
	}
	if err := s.SetMembership(ctx, &store.Membership{
		ProjectScope: project,
		UserID:       userID,
		Role:         store.RoleOwner,
		Active:       true,
	}); err != nil {
		return "", fmt.Errorf("granting owner role: %w", err)
	}
	return userID, nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("board-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	c := gatewayConfig{Generator: "init"}

	fmt.Println("\n--- Server ---")
	c.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	c.DBPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "board.db"))
	if yes(prompt(reader, "Accept signed (JWT) session tokens?", "yes")) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		c.JWTSecret = secret
	}

	fmt.Println("\n--- Redis (multi-instance) ---")
	c.RedisAddr = prompt(reader, "Redis address (empty for standalone)", "")

	fmt.Println("\n--- Tailscale ---")
	c.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if c.Tailscale {
		c.TSHostname = prompt(reader, "Tailscale hostname", "board-gateway")
		c.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		c.TSEphem = yes(prompt(reader, "Ephemeral node?", "no"))
		c.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging ---")
	c.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	c.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if _, err := config.Parse([]byte(c.render())); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}
	if err := writeConfig(outputFile, c); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", filepath.Dir(c.DBPath))
	fmt.Println("\nNext:")
	fmt.Println("  board-gateway bootstrap --name \"Your Name\"")
	fmt.Println("  board-gateway serve")
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	if input = strings.TrimSpace(input); input == "" {
		return defaultVal
	}
	return input
}
