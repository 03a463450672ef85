// ABOUTME: Entry point for the coven-collab realtime collaboration server
// ABOUTME: Dispatches serve, setup, and directory administration subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-collab/internal/config"
	"github.com/2389/coven-collab/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   ___ _____   _____ _ __         ___ ___  | | | __ _| |__
  / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \ | | |/ _' | '_ \
 | (_| (_) \ V /  __/ | | |_____| (_| (_) || | | (_| | |_) |
  \___\___/ \_/ \___|_| |_|      \___\___/ |_|_|\__,_|_.__/
`

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-collab <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                  Start the collaboration server")
	fmt.Println("  init                                   Create a new config file interactively")
	fmt.Println("  bootstrap --name NAME [--username U]   Create the first admin user and token")
	fmt.Println("  token --user USER [--ttl 720h]         Issue a connection token for a user")
	fmt.Println("  grant --project P --user U [--role R]  Give a user access to a project")
	fmt.Println("  revoke --project P --user U            Remove a user's project access")
	fmt.Println("  health                                 Check server health")
	fmt.Println("  status                                 Show connection and room counts")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "grant":
		err = runGrant(ctx, args)
	case "revoke":
		err = runRevoke(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth.jwt_secret not set: only session cookies are accepted")
	}

	fmt.Println()

	logger.Info("starting coven-collab",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"idle_timeout", cfg.Collab.IdleTimeout,
		"typing_timeout", cfg.Collab.TypingTimeout,
		"lock_timeout", cfg.Collab.LockTimeout,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// serverURL returns the base URL of the locally configured server.
func serverURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func getEndpoint(ctx context.Context, path string) (int, []byte, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return 0, nil, fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg)+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	status, _, err := getEndpoint(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	status, body, err := getEndpoint(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	if status != http.StatusOK {
		return fmt.Errorf("not ready: status %d", status)
	}
	return nil
}
