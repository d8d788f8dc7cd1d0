// ABOUTME: Gateway orchestrator that wires store, agent, conversation and HTTP server
// ABOUTME: Manages the HTTP listener lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/coven-assistant/internal/agent"
	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/metrics"
	"github.com/2389/coven-assistant/internal/store"
)

// Gateway orchestrates the coven-assistant server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	runner       agent.Runner
	conversation *conversation.Service
	broadcaster  *conversation.EventBroadcaster
	metrics      *metrics.Metrics
	httpServer   *http.Server
	logger       *slog.Logger

	// listener is set once Run has bound the HTTP address
	listener net.Listener
	ready    chan struct{}
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_ASSISTANT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	if dbPath == "" || dbPath == config.MemoryDatabase {
		return store.NewMemoryStore(), nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initRunner builds the configured chat model and wraps it in an LLMAgent.
func initRunner(cfg *config.Config, states agent.StateStore, logger *slog.Logger) (agent.Runner, error) {
	model, err := agent.NewModel(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("initializing agent model: %w", err)
	}
	return agent.NewLLMAgent(model, states,
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithLogger(logger),
	), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	runner, err := initRunner(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return newGateway(cfg, s, runner, logger), nil
}

// newGateway assembles a Gateway around an existing store and runner.
func newGateway(cfg *config.Config, s store.Store, runner agent.Runner, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()
	broadcaster := conversation.NewEventBroadcaster(logger)
	convService := conversation.New(s, runner, logger,
		conversation.WithDefaults(cfg.Defaults.UserID, cfg.Defaults.Title),
		conversation.WithObserver(m),
		conversation.WithBroadcaster(broadcaster),
	)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		runner:       runner,
		conversation: convService,
		broadcaster:  broadcaster,
		metrics:      m,
		logger:       logger.With("component", "gateway"),
		ready:        make(chan struct{}),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// Handler returns the full HTTP handler: routes wrapped in CORS and access logging.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.registerRoutes(mux)
	return g.withAccessLog(g.withCORS(mux))
}

// registerRoutes registers every endpoint on mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("GET /threads", g.handleListThreads)
	mux.HandleFunc("POST /threads", g.handleCreateThread)
	mux.HandleFunc("GET /threads/{id}", g.handleGetThread)
	mux.HandleFunc("PATCH /threads/{id}", g.handleUpdateThread)
	mux.HandleFunc("GET /threads/{id}/messages", g.handleGetMessages)
	mux.HandleFunc("POST /threads/{id}/messages", g.handleAppendMessage)
	mux.HandleFunc("GET /threads/{id}/events", g.handleThreadEvents)

	mux.HandleFunc("POST /assistant", g.handleAssistant)

	mux.HandleFunc("GET /public/threads/{id}", g.handlePublicThread)
	mux.HandleFunc("GET /share/{id}", g.handleSharePage)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}
}

// Addr returns the bound HTTP address once Run is listening.
func (g *Gateway) Addr() net.Addr {
	<-g.ready
	return g.listener.Addr()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	g.listener = ln
	close(g.ready)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and the configured timeout.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
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
	// Event subscribers hold open requests; close them first so Shutdown can drain
	g.broadcaster.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
