package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"atelier/internal/config"
	"atelier/internal/logging"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	s.handler = s.routes(strings.TrimSpace(cfg.Paths.APIToken))
	return s
}

// routes builds the handler tree. /metrics sits outside bearer auth so a
// scraper needs no token.
func (s *apiServer) routes(token string) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/generations", s.handleSubmit)
	api.HandleFunc("GET /api/generations", s.handleListGenerations)
	api.HandleFunc("GET /api/generations/{id}", s.handleGeneration)
	api.HandleFunc("DELETE /api/generations/{id}", s.handleDeleteGeneration)
	api.HandleFunc("GET /api/generations/{id}/lineage", s.handleLineage)
	api.HandleFunc("POST /api/generations/{id}/remix", s.handleRemix)
	api.HandleFunc("POST /api/generations/{id}/favorite", s.handleToggleFavorite)
	api.HandleFunc("POST /api/generations/{id}/hidden", s.handleToggleHidden)
	api.HandleFunc("GET /api/queue", s.handleQueue)
	api.HandleFunc("GET /api/queue/history", s.handleHistory)
	api.HandleFunc("GET /api/queue/{id}", s.handleQueueItem)
	api.HandleFunc("DELETE /api/queue/{id}", s.handleDeleteQueueItem)
	api.HandleFunc("GET /api/status", s.handleStatus)

	root := http.NewServeMux()
	root.Handle("/api/", authMiddleware(token, api))
	root.Handle("GET /metrics", s.daemon.metrics.Handler())
	return requestIDMiddleware(metricsMiddleware(s.daemon.metrics, root))
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// A shut down http.Server cannot serve again, so each start gets a new one.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.server = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
