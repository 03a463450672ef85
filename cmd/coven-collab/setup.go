// ABOUTME: First-run setup commands: interactive config creation and admin bootstrap
// ABOUTME: Bootstrap writes a config with a random JWT secret, creates an admin user, and issues a token

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-collab/internal/auth"
	"github.com/2389/coven-collab/internal/config"
	"github.com/2389/coven-collab/internal/store"
)

// bootstrapTokenTTL is the lifetime of the token issued to the first admin.
const bootstrapTokenTTL = 30 * 24 * time.Hour

// parseFlags reads "--name value" and "--name=value" pairs into values.
// Every key of values is an accepted flag name without its dashes.
func parseFlags(args []string, values map[string]*string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		dst, ok := values[name]
		if !ok {
			return fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		*dst = value
	}
	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// deriveUsername turns a display name into a login name.
func deriveUsername(displayName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(displayName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func sampleConfig(httpAddr, dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# coven-collab configuration

server:
  http_addr: "%s"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  session_cookie: "coven_session"
  allow_query_token: false
  secure_cookie: false
  session_ttl: "168h"

collab:
  heartbeat_interval: "25s"
  idle_timeout: "75s"
  typing_timeout: "10s"
  lock_timeout: "30m"
  send_buffer: 64
  max_message_bytes: 65536

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`, httpAddr, dbPath, jwtSecret)
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if none exists)
// 2. Creates the database and an admin user with a password
// 3. Issues a connection token for that user
func runBootstrap(ctx context.Context, args []string) error {
	var displayName, username, password string
	if err := parseFlags(args, map[string]*string{
		"name":     &displayName,
		"username": &username,
		"password": &password,
	}); err != nil {
		return err
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return fmt.Errorf("--name flag is required")
	}
	if len(displayName) > 100 {
		return fmt.Errorf("display name exceeds maximum length of 100 characters")
	}
	if username == "" {
		username = deriveUsername(displayName)
	}
	if username == "" {
		return fmt.Errorf("cannot derive a username from %q, pass --username", displayName)
	}

	configPath := config.DefaultPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		jwtSecret, err := randomString(32)
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		content := sampleConfig("localhost:8080", filepath.Join(dataPath, "collab.db"), jwtSecret)
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
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
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	count, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist", count)
	}

	generated := password == ""
	if generated {
		password, err = randomString(12)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		IsAdmin:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	green.Printf("  ✓ Created admin user: %s\n", username)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, bootstrapTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "collab-token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin User")
	cyan.Println("  ----------")
	fmt.Printf("  ID:           %s\n", user.ID)
	fmt.Printf("  Username:     %s\n", username)
	fmt.Printf("  Display Name: %s\n", displayName)
	if generated {
		fmt.Printf("  Password:     %s\n", password)
	}
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, time.Now().Add(bootstrapTokenTTL).Format("Jan 02, 2006"))
	fmt.Println()

	if generated {
		yellow.Println("  The generated password is shown only once.")
		fmt.Println()
	}
	yellow.Println("  Ready to go:")
	fmt.Println("    coven-collab serve")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-collab configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "collab.db")

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	jwtSecret, err := randomString(32)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	content := sampleConfig(httpAddr, dbPath, jwtSecret)

	fmt.Println("\n--- Tailscale Configuration ---")
	if isYes(prompt(reader, "Enable Tailscale?", "no")) {
		hostname := prompt(reader, "Tailscale hostname", "coven-collab")
		authKey := prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		ephemeral := isYes(prompt(reader, "Ephemeral node?", "no"))

		var ts strings.Builder
		ts.WriteString("\ntailscale:\n")
		ts.WriteString("  enabled: true\n")
		ts.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", hostname))
		if authKey != "" {
			ts.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", authKey))
		}
		ts.WriteString(fmt.Sprintf("  ephemeral: %t\n", ephemeral))
		content += ts.String()
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  coven-collab bootstrap --name \"Your Name\"")
	fmt.Println("  coven-collab serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
