// ABOUTME: Gateway orchestrator that wires the collaboration coordinator to HTTP
// ABOUTME: Manages the store, authenticator, websocket endpoint, and server lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-collab/internal/auth"
	"github.com/2389/coven-collab/internal/collab"
	"github.com/2389/coven-collab/internal/config"
	"github.com/2389/coven-collab/internal/liveness"
	"github.com/2389/coven-collab/internal/metrics"
	"github.com/2389/coven-collab/internal/store"
)

// sessionSweepInterval is how often expired login sessions are purged.
const sessionSweepInterval = time.Hour

// Gateway orchestrates the coven-collab server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	authenticator *auth.Authenticator
	coordinator   *collab.Coordinator
	liveness      *liveness.Tracker
	metrics       *metrics.Metrics
	httpServer    *http.Server
	tsnetServer   *tsnet.Server
	upgrader      websocket.Upgrader
	logger        *slog.Logger

	draining     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway backed by the configured SQLite store.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a gateway around an existing store. The gateway takes
// ownership of the store and closes it on shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	authCfg := auth.AuthenticatorConfig{
		Users:           s,
		Sessions:        s,
		CookieName:      cfg.Auth.SessionCookie,
		AllowQueryToken: cfg.Auth.AllowQueryToken,
		Logger:          logger,
	}
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		authCfg.Verifier = verifier
	} else {
		logger.Warn("auth.jwt_secret not set, bearer tokens are disabled and only session cookies are accepted")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	gw := &Gateway{
		config:        cfg,
		store:         s,
		authenticator: auth.NewAuthenticator(authCfg),
		metrics:       m,
		logger:        logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	gw.coordinator = collab.New(collab.Config{
		Access:        s,
		Logger:        logger,
		Metrics:       m,
		BufferSize:    cfg.Collab.SendBuffer,
		TypingTimeout: cfg.Collab.TypingTimeout,
		LockTimeout:   cfg.Collab.LockTimeout,
		SweepInterval: cfg.Collab.SweepInterval,
	})
	gw.liveness = liveness.New(cfg.Collab.IdleTimeout, 0, gw.reapIdle)

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.metrics != nil {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	mux.HandleFunc("GET /ws", g.handleWebSocket)
	mux.HandleFunc("POST /auth/login", g.handleLogin)
	mux.HandleFunc("POST /auth/logout", g.handleLogout)

	requireIdentity := auth.RequireIdentity(g.authenticator, g.onAuthReject)
	mux.Handle("GET /api/projects/{projectID}/presence",
		requireIdentity(http.HandlerFunc(g.handlePresence)))
	mux.Handle("POST /api/projects/{projectID}/resources/{resourceID}/changed",
		requireIdentity(http.HandlerFunc(g.handleResourceChanged)))
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Coordinator returns the collaboration coordinator.
func (g *Gateway) Coordinator() *collab.Coordinator {
	return g.coordinator
}

// reapIdle disconnects a connection the liveness tracker found silent.
func (g *Gateway) reapIdle(connID string) {
	g.logger.Info("reclaiming idle connection", "conn_id", connID)
	g.metrics.Reclaimed("connection", 1)
	g.coordinator.Disconnect(connID)
}

func (g *Gateway) onAuthReject(r *http.Request, err error) {
	g.metrics.AuthRejected()
	g.logger.Debug("request rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", err)
}

func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go g.runSessionJanitor(janitorCtx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// runSessionJanitor purges expired login sessions until ctx is done.
func (g *Gateway) runSessionJanitor(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.store.DeleteExpiredSessions(ctx)
			if err != nil {
				g.logger.Error("purging expired sessions", "error", err)
				continue
			}
			if n > 0 {
				g.logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-collab", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends a labeled error if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting connections, disconnects every websocket client,
// and closes the store. Subsequent calls return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")
		g.draining.Store(true)

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		// Hijacked websocket connections are not tracked by the HTTP server;
		// closing the coordinator closes their outbound queues, which makes
		// each writer send a close frame and drop the socket.
		g.liveness.Close()
		g.coordinator.Close()

		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		errs = appendCloseError(errs, "store close", g.store.Close())

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type readyResponse struct {
	Status string `json:"status"`
	collab.Stats
}

// handleReady reports coordinator counts, or 503 once shutdown has begun.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ready", Stats: g.coordinator.Stats()}
	status := http.StatusOK
	if g.draining.Load() {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("encoding ready response", "error", err)
	}
}
