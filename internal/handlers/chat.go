package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aigoflow/studio-bridge/internal/models"
	"github.com/aigoflow/studio-bridge/internal/queue"
	"github.com/aigoflow/studio-bridge/internal/repository"
	"github.com/aigoflow/studio-bridge/internal/services"
	"github.com/aigoflow/studio-bridge/internal/stream"
)

// ChatHandler exposes the OpenAI-compatible surface plus the diagnostic
// endpoints. It never touches the page itself: requests flow through the
// queue, responses come back as futures.
type ChatHandler struct {
	queue  *queue.Queue
	reg    *models.Registry
	repo   repository.Repository
	health *services.HealthService
}

func NewChatHandler(q *queue.Queue, reg *models.Registry, repo repository.Repository, health *services.HealthService) *ChatHandler {
	return &ChatHandler{
		queue:  q,
		reg:    reg,
		repo:   repo,
		health: health,
	}
}

func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	mux.HandleFunc("POST /v1/cancel/{id}", h.handleCancel)
	mux.HandleFunc("GET /v1/queue", h.handleQueue)
	mux.HandleFunc("GET /v1/models", h.handleModels)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /logs", h.handleLogs)
}

func (h *ChatHandler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "", fmt.Errorf("%w: malformed JSON body: %v", models.ErrInvalidRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, "", err)
		return
	}
	// Unknown models are rejected before consuming a queue slot. With an
	// unpopulated table the worker decides.
	if req.Model != "" && !h.reg.Empty() {
		if _, ok := h.reg.Lookup(req.Model); !ok {
			writeError(w, "", fmt.Errorf("%w: unknown model %q", models.ErrInvalidRequest, req.Model))
			return
		}
	}

	item := h.queue.Enqueue(r.Context(), &req)
	slog.Info("Request enqueued", "req_id", item.ID, "model", req.Model, "stream", req.Stream)

	outcome := <-item.Result()
	if outcome.Err != nil {
		writeError(w, item.ID, outcome.Err)
		return
	}

	if req.Stream && outcome.Source != nil {
		h.streamResponse(w, r, item, outcome)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outcome.Completion)
}

// streamResponse drives the tuple source into SSE frames. StreamDone is always
// closed on return so the worker's drain wait never hangs on a dead client.
func (h *ChatHandler) streamResponse(w http.ResponseWriter, r *http.Request, item *queue.Item, outcome queue.Outcome) {
	if outcome.StreamDone != nil {
		defer close(outcome.StreamDone)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	assembler := stream.NewAssembler(item.ID, outcome.Model)
	if err := assembler.StreamSSE(r.Context(), w, outcome.Source, item.Request.Messages); err != nil {
		slog.Warn("Stream ended with error", "req_id", item.ID, "error", err)
	}
}

func (h *ChatHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.queue.Cancel(id) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":    "not_found",
				"message": fmt.Sprintf("request %q is not queued", id),
			},
		})
		return
	}
	slog.Info("Request cancelled", "req_id", id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "cancelled": true})
}

func (h *ChatHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.queue.Snapshot())
}

func (h *ChatHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	entries := h.reg.Entries()
	list := models.APIModelList{Object: "list", Data: make([]models.APIModel, 0, len(entries))}
	for _, e := range entries {
		list.Data = append(list.Data, models.APIModel{
			ID:          e.ID,
			Object:      "model",
			Created:     time.Now().Unix(),
			OwnedBy:     "studio-bridge",
			DisplayName: e.DisplayName,
			Description: e.Description,
		})
	}
	// The table fills in once the page has loaded a model list; until then
	// clients still get a syntactically valid listing.
	if len(list.Data) == 0 {
		list.Data = append(list.Data, models.APIModel{
			ID:      "studio-bridge-pending",
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "studio-bridge",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *ChatHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.health.Status())
}

func (h *ChatHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	logs, err := h.repo.Request().GetRequestLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get logs: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(logs)
}

// writeError maps a turn error onto its HTTP status and the OpenAI error
// envelope. Status 499 has no registered text but is conventional for
// client-went-away.
func writeError(w http.ResponseWriter, reqID string, err error) {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		apiErr = models.NewAPIError(reqID, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": apiErr})
}
