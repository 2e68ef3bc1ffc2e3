// ABOUTME: board-cli, a terminal client for realtime boards
// ABOUTME: Cobra command tree over the reconciling client session

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/board-gateway/internal/client"
	"github.com/2389/board-gateway/internal/reconciler"
)

var version = "dev"

var (
	profilePath string
	overrides   Overrides
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "board-cli",
	Short: "Watch and edit realtime boards",
	Long: `board-cli connects to a board-gateway over WebSocket.

Column edits and task moves show up immediately and are reverted if the
gateway rejects them. Settings come from flags, then BOARD_URL, BOARD_TOKEN
and BOARD_PROJECT, then the profile at $XDG_CONFIG_HOME/board/cli.toml.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&profilePath, "profile", defaultProfilePath(), "path to the TOML profile")
	pf.StringVar(&overrides.URL, "url", "", "gateway WebSocket url (ws:// or wss://)")
	pf.StringVar(&overrides.Token, "token", "", "session token")
	pf.StringVarP(&overrides.Project, "project", "p", "", "project scope")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON instead of the colored board")
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func settings() (*Settings, error) {
	p, err := LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	return p.Resolve(overrides)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// connection is a running session plus the plumbing to stop it.
type connection struct {
	*client.Session
	settings *Settings
	cancel   context.CancelFunc
	runErr   chan error
}

func (c *connection) Close() {
	c.cancel()
	<-c.runErr
}

// connect dials the gateway, joins board and waits for the first snapshot.
func connect(ctx context.Context, board string, onChange func(), onReject func(reconciler.PendingOperation, string)) (*connection, error) {
	s, err := settings()
	if err != nil {
		return nil, err
	}
	if s.Project == "" {
		return nil, fmt.Errorf("no project scope: pass --project or set board.project in %s", profilePath)
	}

	ctx, cancel := context.WithCancel(ctx)
	sess, err := client.Dial(ctx, client.Config{
		URL:            s.URL,
		Token:          s.Token,
		ProjectScope:   s.Project,
		BoardKey:       board,
		RevertDelay:    s.RevertDelay,
		PendingTimeout: s.PendingTimeout,
		OnChange:       onChange,
		OnReject:       onReject,
		Logger:         newLogger(s.LogLevel, os.Stderr),
	})
	if err != nil {
		cancel()
		return nil, err
	}

	c := &connection{Session: sess, settings: s, cancel: cancel, runErr: make(chan error, 1)}
	go func() { c.runErr <- sess.Run(ctx) }()

	select {
	case <-sess.Ready():
		return c, nil
	case err := <-c.runErr:
		cancel()
		if err == nil {
			err = client.ErrClosed
		}
		return nil, fmt.Errorf("joining %s: %w", board, err)
	case <-time.After(s.Wait):
		c.Close()
		return nil, fmt.Errorf("joining %s: no snapshot after %s", board, s.Wait)
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
