// ABOUTME: Gateway orchestrator that wires the conversation engine to its HTTP API
// ABOUTME: Manages store, presence backend, assistant provider and server lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/support-gateway/internal/assistant"
	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/config"
	"github.com/2389/support-gateway/internal/contact"
	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/dedupe"
	"github.com/2389/support-gateway/internal/dispatch"
	"github.com/2389/support-gateway/internal/knowledge"
	"github.com/2389/support-gateway/internal/mode"
	"github.com/2389/support-gateway/internal/presence"
	"github.com/2389/support-gateway/internal/store"
)

// Gateway owns the conversation engine components and serves them over HTTP.
type Gateway struct {
	config       *config.Config
	store        store.Store
	events       *conversation.EventBroadcaster
	conversation *conversation.Service
	modes        *mode.Controller
	knowledge    *knowledge.Service
	presence     *presence.Tracker
	contacts     *contact.Resolver
	dispatcher   *dispatch.Dispatcher
	generator    assistant.Generator
	verifier     auth.TokenVerifier
	dedupe       *dedupe.Cache
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// redis is set when presence uses the redis backend
	redis *goredis.Client
}

// components are the external resources a Gateway is built from.
type components struct {
	store     store.Store
	presence  presence.Backend
	generator assistant.Generator
	redis     *goredis.Client
}

// initStore opens the SQLite store named by config or SUPPORT_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SUPPORT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initPresence builds the configured presence backend.
func initPresence(ctx context.Context, cfg config.PresenceConfig) (presence.Backend, *goredis.Client, error) {
	if cfg.Backend != "redis" {
		return presence.NewMemoryBackend(), nil, nil
	}
	client, err := presence.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting presence redis: %w", err)
	}
	return presence.NewRedisBackend(client, cfg.KeyTTL), client, nil
}

// initGenerator builds the configured assistant provider. A nil Generator
// means only canned replies are sent.
func initGenerator(ctx context.Context, cfg config.AssistantConfig, logger *slog.Logger) (assistant.Generator, error) {
	registry := assistant.NewRegistry(logger)
	gen, err := registry.New(ctx, assistant.Options{
		Provider:     cfg.Provider,
		Model:        cfg.Model,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing assistant provider %q: %w", cfg.Provider, err)
	}
	return gen, nil
}

// New creates a Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	backend, redisClient, err := initPresence(ctx, cfg.Presence)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gen, err := initGenerator(ctx, cfg.Assistant, logger)
	if err != nil {
		_ = s.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}
	if gen == nil {
		logger.Warn("no assistant provider configured, only canned replies will be sent")
	}

	return newGateway(cfg, components{
		store:     s,
		presence:  backend,
		generator: gen,
		redis:     redisClient,
	}, logger)
}

// newGateway wires the engine components together.
func newGateway(cfg *config.Config, c components, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	events := conversation.NewEventBroadcaster(logger)

	tracker := presence.NewTracker(c.presence, presence.Options{
		Debounce:    cfg.Presence.Debounce,
		IdleTimeout: cfg.Presence.IdleTimeout,
		OnChange: func(rec presence.Record) {
			events.Publish(&conversation.Event{
				Type:      conversation.EventPresenceChanged,
				OrgID:     rec.OrgID,
				SessionID: rec.SessionID,
				Presence:  &rec,
			}, "")
		},
	}, logger)

	convService := conversation.New(c.store, tracker, events, logger)
	modes := mode.NewController(c.store, events, logger)
	knowledgeService := knowledge.NewService(c.store, knowledge.Options{
		CacheTTL:  cfg.Knowledge.CacheTTL,
		CacheSize: cfg.Knowledge.CacheSize,
	}, logger)
	contacts := contact.NewResolver(c.store, logger)

	dispatcher := dispatch.New(dispatch.Deps{
		Conversations: convService,
		Contacts:      contacts,
		Knowledge:     knowledgeService,
		Modes:         modes,
		Presence:      tracker,
		Generator:     c.generator,
	}, dispatch.Options{
		Timeout:           cfg.Assistant.Timeout,
		RatePerMinute:     cfg.Assistant.RatePerMinute,
		Burst:             cfg.Assistant.Burst,
		InboundPerMinute:  cfg.Assistant.InboundPerMinute,
		InboundBurst:      cfg.Assistant.InboundBurst,
		AssistantName:     cfg.Assistant.Name,
		SerializeSessions: cfg.Assistant.SerializeSessions,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        c.store,
		events:       events,
		conversation: convService,
		modes:        modes,
		knowledge:    knowledgeService,
		presence:     tracker,
		contacts:     contacts,
		dispatcher:   dispatcher,
		generator:    c.generator,
		verifier:     verifier,
		dedupe:       dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries),
		redis:        c.redis,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run serves HTTP until the context is canceled or the server fails, then
// shuts everything down. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})
	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
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
	return filepath.Join(homeDir, ".local", "share", "support-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
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

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
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

	ln, err := g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
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

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	// Open SSE streams end when the broadcaster closes their channels.
	g.events.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if closer, ok := g.generator.(io.Closer); ok {
		errs = appendCloseError(errs, "assistant close", closer.Close())
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	g.dedupe.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
