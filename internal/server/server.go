// Package server wires the stores, the provider registry, and the pipeline
// workers behind one HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/bible"
	"github.com/jackzampolin/easel/internal/blob"
	"github.com/jackzampolin/easel/internal/config"
	"github.com/jackzampolin/easel/internal/home"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/metrics"
	"github.com/jackzampolin/easel/internal/novels"
	"github.com/jackzampolin/easel/internal/panels"
	"github.com/jackzampolin/easel/internal/pipeline"
	"github.com/jackzampolin/easel/internal/providers"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/server/endpoints"
	"github.com/jackzampolin/easel/internal/store"
	"github.com/jackzampolin/easel/internal/svcctx"
	"github.com/jackzampolin/easel/internal/tasks"
)

// Server is the main Easel HTTP server. Starting it opens the store and
// runs the pipeline workers; stopping it shuts both down.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	configMgr  *config.Manager
	registry   *providers.Registry
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	st *store.Store

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Addr is the address to listen on (default: localhost:8780)
	Addr string
	// Home is the easel home directory holding the database and blobs
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		if cfg.ConfigManager != nil {
			cfg.Addr = cfg.ConfigManager.Get().Server.Addr
		}
		if cfg.Addr == "" {
			cfg.Addr = "localhost:8780"
		}
	}

	registry := providers.NewRegistry(cfg.Logger)

	s := &Server{
		home:      cfg.Home,
		configMgr: cfg.ConfigManager,
		registry:  registry,
		logger:    cfg.Logger,
	}

	if cfg.ConfigManager != nil {
		s.reloadProviders(cfg.ConfigManager.Get())
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			s.reloadProviders(c)
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// reloadProviders rebuilds generator registrations from config. Credentials
// go through a TTL cache, so a rotated key in the environment is picked up
// without restarting.
func (s *Server) reloadProviders(c *config.Config) {
	ttl := time.Duration(c.Pipeline.CredentialTTLMins) * time.Minute
	for name, pc := range c.EnabledProviders() {
		switch pc.Type {
		case "openai":
			apiKey := pc.APIKey
			client := providers.NewOpenAIClient(providers.OpenAIConfig{
				Credentials: providers.NewCredentialCache(func(ctx context.Context) (string, error) {
					key := config.ResolveEnvVars(apiKey)
					if key == "" {
						return "", errors.New("openai api key is not set")
					}
					return key, nil
				}, ttl),
				ChatModel:   pc.ChatModel,
				ImageModel:  pc.ImageModel,
				Temperature: pc.Temperature,
				MaxRetries:  pc.MaxRetries,
				Timeout:     time.Duration(pc.TimeoutSecs) * time.Second,
				BaseURL:     pc.BaseURL,
			})
			s.registry.RegisterStoryboard(name, client)
			s.registry.RegisterImage(name, client)
		case "mock":
			mock := providers.NewMockGenerator()
			s.registry.RegisterStoryboard(name, mock)
			s.registry.RegisterImage(name, mock)
		default:
			s.logger.Warn("unknown provider type", "provider", name, "type", pc.Type)
		}
	}
}

// Start opens the store, starts the pipeline workers and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("prepare home directory: %w", err)
	}

	st, err := store.Open(s.home.DatabasePath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("open store: %w", err)
	}
	s.st = st

	blobs, err := blob.NewStore(s.home.BlobPath())
	if err != nil {
		s.setNotRunning()
		_ = st.Close()
		return fmt.Errorf("open blob store: %w", err)
	}

	cfg := s.config()

	q := queue.New(st, s.logger)
	if cfg.Pipeline.VisibilityMinutes > 0 {
		q.Visibility = time.Duration(cfg.Pipeline.VisibilityMinutes) * time.Minute
	}

	configStore := config.NewStore(st)
	if err := config.SeedDefaults(ctx, configStore, s.logger); err != nil {
		s.logger.Warn("seeding default settings failed", "error", err)
	}

	bibles := bible.NewStore(st, blobs, s.logger)
	bibles.SetOffloadThreshold(cfg.Storage.OffloadThresholdBytes())
	nvls := novels.NewStore(st, blobs, s.logger)
	nvls.SetOffloadThreshold(cfg.Storage.OffloadThresholdBytes())

	s.services = &svcctx.Services{
		Jobs:        jobs.NewManager(st, s.logger),
		Tasks:       tasks.NewStore(st, s.logger),
		Queue:       q,
		Bibles:      bibles,
		Novels:      nvls,
		Panels:      panels.NewStore(st, s.logger),
		Blobs:       blobs,
		Registry:    s.registry,
		Metrics:     metrics.NewRecorder(st, s.logger),
		ConfigStore: configStore,
		Config:      s.configMgr,
		Logger:      s.logger,
		Home:        s.home,
	}

	// The workers share the HTTP server's lifetime.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	s.startPipeline(workerCtx, &workers, cfg)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			stopWorkers()
			workers.Wait()
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	stopWorkers()
	workers.Wait()
	return s.shutdown()
}

// startPipeline registers the queue consumers and the stale-task sweeper.
func (s *Server) startPipeline(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config) {
	deps := pipeline.Deps{
		Jobs:      s.services.Jobs,
		Tasks:     s.services.Tasks,
		Queue:     s.services.Queue,
		Bibles:    s.services.Bibles,
		Novels:    s.services.Novels,
		Panels:    s.services.Panels,
		Blobs:     s.services.Blobs,
		Registry:  s.registry,
		Metrics:   s.services.Metrics,
		Generator: cfg.Defaults.Generator,
		Logger:    s.logger,
	}

	batch := cfg.Pipeline.BatchSize
	if batch <= 0 {
		batch = 4
	}

	analyze := pipeline.NewAnalyzeWorker(deps)
	panel := pipeline.NewPanelWorker(deps)
	reference := pipeline.NewReferenceWorker(deps)

	runner := pipeline.NewRunner(s.services.Queue, s.logger)
	if cfg.Pipeline.PollIntervalSeconds > 0 {
		runner.PollInterval = time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second
	}
	runner.Register(queue.TopicAnalyze, 1, analyze.Process)
	runner.Register(queue.TopicPanels, batch, panel.Process)
	runner.Register(queue.TopicBibleChanges, batch, reference.Process)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	dispatcher := pipeline.NewRetryDispatcher(deps)
	if cfg.Pipeline.StaleAfterMinutes > 0 {
		dispatcher.StaleAfter = time.Duration(cfg.Pipeline.StaleAfterMinutes) * time.Minute
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, time.Minute)
	}()
}

// config returns the active configuration, falling back on defaults when
// no manager was supplied.
func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

// shutdown performs graceful shutdown of the HTTP server and closes the
// store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.st != nil {
		if err := s.st.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Services returns the wired services. Nil until the server has started.
func (s *Server) Services() *svcctx.Services {
	return s.services
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable while the store is still opening.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
