// ABOUTME: Entry point for board-gateway, the realtime board synchronization server
// ABOUTME: Dispatches the serve, init, bootstrap, health and status subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/board-gateway/internal/config"
	"github.com/2389/board-gateway/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _                         _
 | |__   ___   __ _ _ __ __| |
 | '_ \ / _ \ / _' | '__/ _' |
 | |_) | (_) | (_| | | | (_| |
 |_.__/ \___/ \__,_|_|  \__,_|
`

// configDir returns $XDG_CONFIG_HOME/board, falling back to ~/.config/board.
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

// getConfigPath honors BOARD_CONFIG before the XDG location.
func getConfigPath() string {
	if p := os.Getenv("BOARD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "gateway.yaml")
}

// getDataPath returns $XDG_DATA_HOME/board, falling back to ~/.local/share/board.
func getDataPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "board")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: board-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                                Start the gateway server")
	fmt.Fprintln(w, "  init                                 Create a config file interactively")
	fmt.Fprintln(w, "  bootstrap --name NAME [--project P]  Create the first owner and a token")
	fmt.Fprintln(w, "  health                               Check gateway liveness")
	fmt.Fprintln(w, "  status                               Show readiness, connections and boards")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "health":
		err = runProbe(ctx, "/health")
	case "status":
		err = runProbe(ctx, "/health/ready")
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stdout)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("Database", cfg.Database.Path)
	if cfg.Server.HTTPAddr != "" && !cfg.Tailscale.Enabled {
		line("HTTP", cfg.Server.HTTPAddr)
	}
	if cfg.Redis.Enabled() {
		line("Redis", cfg.Redis.Addr)
	} else {
		line("Redis", gray.Sprint("off (standalone)"))
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting board-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"redis", cfg.Redis.Enabled(),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// runProbe hits a health endpoint of the configured local gateway and
// prints its body.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is not set; probe the tailnet address instead")
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}
