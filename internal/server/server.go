package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolify/toolify/internal/config"
	"github.com/toolify/toolify/internal/middleware"
	"github.com/toolify/toolify/internal/proxy"
)

type Server struct {
	config   *config.Manager
	pipeline *proxy.Pipeline
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config:   configManager,
		pipeline: proxy.New(configManager, logger),
		logger:   logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	openAIHandler := proxy.NewOpenAIHandler(s.pipeline)
	anthropicHandler := proxy.NewAnthropicHandler(s.pipeline)
	geminiHandler := proxy.NewGeminiHandler(s.pipeline)
	modelsHandler := proxy.NewModelsHandler(s.pipeline)
	healthHandler := proxy.NewHealthHandler(s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	defaultChain := middlewareSet.DefaultChain()

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("POST /v1/chat/completions", defaultChain.Handler(openAIHandler))
	mux.Handle("POST /v1/messages", defaultChain.Handler(anthropicHandler))
	mux.Handle("POST /v1beta/models/{model}", defaultChain.Handler(geminiHandler))
	mux.Handle("GET /v1/models", defaultChain.Handler(modelsHandler))

	return mux
}
