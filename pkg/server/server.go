package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aigoflow/studio-bridge/internal/handlers"
	"github.com/aigoflow/studio-bridge/internal/models"
	"github.com/aigoflow/studio-bridge/internal/queue"
	"github.com/aigoflow/studio-bridge/internal/repository"
	"github.com/aigoflow/studio-bridge/internal/services"
)

type Server struct {
	httpAddr string
	queue    *queue.Queue
	reg      *models.Registry
	repo     repository.Repository
	health   *services.HealthService
}

func NewServer(httpAddr string, q *queue.Queue, reg *models.Registry, repo repository.Repository, health *services.HealthService) *Server {
	return &Server{
		httpAddr: httpAddr,
		queue:    q,
		reg:      reg,
		repo:     repo,
		health:   health,
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	chatHandler := handlers.NewChatHandler(s.queue, s.reg, s.repo, s.health)
	chatHandler.RegisterRoutes(mux)

	srv := &http.Server{Addr: s.httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	slog.Info("HTTP server starting", "addr", s.httpAddr,
		"endpoints", []string{"/v1/chat/completions", "/v1/cancel/{id}", "/v1/queue", "/v1/models", "/health", "/logs"})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
