package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/models"
	"github.com/aigoflow/studio-bridge/internal/queue"
)

// HealthService answers health probes over NATS and publishes a periodic
// heartbeat so fleet tooling can watch the bridge without touching HTTP.
type HealthService struct {
	nats   *nats.Conn
	config *config.Config
	reg    *models.Registry
	queue  *queue.Queue
}

type HealthStatus struct {
	Status       string    `json:"status"` // online, busy
	CurrentModel string    `json:"current_model"`
	ModelCount   int       `json:"model_count"`
	QueueLength  int       `json:"queue_length"`
	LockHeld     bool      `json:"lock_held"`
	LastActivity time.Time `json:"last_activity"`
	Endpoint     string    `json:"endpoint"`
	Source       string    `json:"source"`
	Version      string    `json:"version"`
}

func NewHealthService(natsConn *nats.Conn, cfg *config.Config, reg *models.Registry, q *queue.Queue) *HealthService {
	return &HealthService{
		nats:   natsConn,
		config: cfg,
		reg:    reg,
		queue:  q,
	}
}

func (h *HealthService) Start(ctx context.Context) error {
	_, err := h.nats.Subscribe(h.config.HeartbeatSubject+".check", func(msg *nats.Msg) {
		statusData, err := json.Marshal(h.Status())
		if err != nil {
			slog.Error("Failed to marshal health status", "error", err)
			return
		}
		if err := msg.Respond(statusData); err != nil {
			slog.Error("Failed to respond to health check", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to health subject: %w", err)
	}

	slog.Info("Health service started", "subject", h.config.HeartbeatSubject)

	go h.publishHeartbeats(ctx)

	return nil
}

func (h *HealthService) publishHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statusData, err := json.Marshal(h.Status())
			if err != nil {
				continue
			}
			if err := h.nats.Publish(h.config.HeartbeatSubject, statusData); err != nil {
				slog.Warn("Failed to publish heartbeat", "error", err)
			}
		}
	}
}

// Status assembles the current health snapshot. Also backs GET /health.
func (h *HealthService) Status() HealthStatus {
	snapshot := h.queue.Snapshot()
	status := "online"
	if snapshot.LockHeld {
		status = "busy"
	}
	return HealthStatus{
		Status:       status,
		CurrentModel: h.reg.Current(),
		ModelCount:   len(h.reg.Entries()),
		QueueLength:  snapshot.Length,
		LockHeld:     snapshot.LockHeld,
		LastActivity: time.Now(),
		Endpoint:     fmt.Sprintf("http://localhost%s", h.config.HTTPAddr),
		Source:       h.config.ResponseSource,
		Version:      "1.0.0",
	}
}
