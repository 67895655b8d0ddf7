package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/models"
	"github.com/aigoflow/studio-bridge/internal/page"
	"github.com/aigoflow/studio-bridge/internal/queue"
	"github.com/aigoflow/studio-bridge/internal/repository"
	"github.com/aigoflow/studio-bridge/internal/stream"
)

// TupleSource is the resettable tuple feed used when response acquisition runs
// through the sniffer. Reset discards residue from the previous turn.
type TupleSource interface {
	stream.Source
	Reset()
}

// TurnService runs one complete chat turn against the shared page: model
// switch, parameter reconciliation, submission, response acquisition. It is
// only ever invoked by the queue worker, so every method below executes under
// the processing lock.
type TurnService struct {
	cfg      *config.Config
	ctrl     *page.Controller
	switcher *page.ModelSwitcher
	detector *page.Detector
	reg      *models.Registry
	repo     repository.Repository
	tuples   TupleSource // nil in DOM-scrape mode
	workerID string
}

func NewTurnService(cfg *config.Config, ctrl *page.Controller, switcher *page.ModelSwitcher,
	detector *page.Detector, reg *models.Registry, repo repository.Repository,
	tuples TupleSource, workerID string) *TurnService {
	return &TurnService{
		cfg:      cfg,
		ctrl:     ctrl,
		switcher: switcher,
		detector: detector,
		reg:      reg,
		repo:     repo,
		tuples:   tuples,
		workerID: workerID,
	}
}

// Process implements queue.Processor.
func (s *TurnService) Process(ctx context.Context, item *queue.Item) (outcome queue.Outcome) {
	start := time.Now()
	traceID := ulid.Make().String()
	req := item.Request

	defer func() {
		if r := recover(); r != nil {
			errStr := fmt.Sprintf("service panic: %v", r)
			slog.Error("Turn panicked", "req_id", item.ID, "trace_id", traceID, "panic", r)
			s.repo.Request().LogRequest(ctx, &models.RequestLog{
				Timestamp:  start,
				TraceID:    traceID,
				ReqID:      item.ID,
				WorkerID:   s.workerID,
				Source:     s.cfg.ResponseSource,
				Model:      req.Model,
				Prompt:     "[CRASHED]",
				ParamsJSON: paramsJSON(req),
				Streamed:   req.Stream,
				DurationMs: float64(time.Since(start).Milliseconds()),
				Status:     "panic",
				Error:      errStr,
			})
			outcome = queue.Outcome{Err: models.NewAPIError(item.ID, errors.New(errStr))}
		}
	}()

	// Page operations follow the worker context but must also abort when the
	// client goes away mid-turn.
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-item.Ctx.Done():
			cancel()
		case <-stopWatch:
		}
	}()

	modelID, entry, err := s.resolveModel(req.Model)
	if err != nil {
		return s.fail(ctx, item, traceID, start, "", err)
	}

	if err := s.checkpoint(item); err != nil {
		return s.fail(ctx, item, traceID, start, modelID, err)
	}
	if err := s.ctrl.ClearChat(turnCtx); err != nil {
		slog.Warn("Clear chat failed, continuing", "req_id", item.ID, "error", err)
	}

	if err := s.switcher.Switch(turnCtx, item.ID, modelID); err != nil {
		return s.fail(ctx, item, traceID, start, modelID, err)
	}

	if err := s.checkpoint(item); err != nil {
		return s.fail(ctx, item, traceID, start, modelID, err)
	}
	if err := s.ctrl.SetParameters(turnCtx, item.ID, req, entry); err != nil {
		return s.fail(ctx, item, traceID, start, modelID, err)
	}

	prompt := models.BuildPrompt(req.Messages)
	if err := s.checkpoint(item); err != nil {
		return s.fail(ctx, item, traceID, start, modelID, err)
	}

	if s.tuples != nil {
		s.tuples.Reset()
	}
	if err := s.ctrl.Submit(turnCtx, prompt); err != nil {
		s.ctrl.Snapshot(ctx, item.ID, "submit_failed")
		return s.fail(ctx, item, traceID, start, modelID, err)
	}
	slog.Info("Turn submitted", "req_id", item.ID, "trace_id", traceID,
		"model", modelID, "stream", req.Stream, "prompt_len", len(prompt))

	if s.tuples != nil {
		return s.finishFromSniffer(ctx, turnCtx, item, traceID, start, modelID, prompt)
	}
	return s.finishFromDOM(ctx, turnCtx, item, traceID, start, modelID, prompt)
}

// finishFromSniffer hands the live tuple feed to the caller. Streaming clients
// get the feed directly; non-streaming turns drain it here into one object.
func (s *TurnService) finishFromSniffer(ctx, turnCtx context.Context, item *queue.Item,
	traceID string, start time.Time, modelID, prompt string) queue.Outcome {
	req := item.Request

	if req.Stream {
		s.logTurn(ctx, item, traceID, start, modelID, prompt, "", nil, "streaming", "")
		return queue.Outcome{
			Source:     s.tuples,
			Model:      modelID,
			StreamDone: make(chan struct{}),
		}
	}

	assembler := stream.NewAssembler(item.ID, modelID)
	completion, err := assembler.Collect(turnCtx, s.tuples, req.Messages)
	if err != nil {
		if errors.Is(err, context.Canceled) && item.Disconnected() {
			err = models.ErrClientDisconnected
		}
		return s.fail(ctx, item, traceID, start, modelID, err)
	}
	msg := completion.Choices[0].Message
	s.logTurn(ctx, item, traceID, start, modelID, prompt, msg.Content, &completion.Usage, "ok", "")
	return queue.Outcome{Completion: completion, Model: modelID}
}

// finishFromDOM waits for visual completion, scrapes the response text, and
// replays it through a chunking source so the streaming contract holds.
func (s *TurnService) finishFromDOM(ctx, turnCtx context.Context, item *queue.Item,
	traceID string, start time.Time, modelID, prompt string) queue.Outcome {
	req := item.Request

	confirmation, err := s.detector.Wait(turnCtx, item.ID)
	if err != nil {
		if errors.Is(err, models.ErrClientDisconnected) && !item.Disconnected() {
			err = fmt.Errorf("worker shutting down: %w", turnCtx.Err())
		}
		return s.fail(ctx, item, traceID, start, modelID, err)
	}
	slog.Debug("Completion detected", "req_id", item.ID, "via", confirmation.String())

	text, err := s.ctrl.ScrapeResponse(turnCtx, item.ID)
	if err != nil {
		s.ctrl.Snapshot(ctx, item.ID, "scrape_failed")
		return s.fail(ctx, item, traceID, start, modelID, err)
	}

	usage := stream.Usage(req.Messages, text, "")
	s.logTurn(ctx, item, traceID, start, modelID, prompt, text, &usage, "ok", "")

	source := stream.NewTextSource(text, s.cfg.StreamChunkSize, s.cfg.StreamChunkDelay)
	if req.Stream {
		return queue.Outcome{
			Source:     source,
			Model:      modelID,
			StreamDone: make(chan struct{}),
		}
	}
	assembler := stream.NewAssembler(item.ID, modelID)
	completion, err := assembler.Collect(context.WithoutCancel(turnCtx), source, req.Messages)
	if err != nil {
		return s.fail(ctx, item, traceID, start, modelID, err)
	}
	return queue.Outcome{Completion: completion, Model: modelID}
}

// resolveModel maps the requested model onto the registry. An empty request
// model means "whatever is loaded"; an unknown one is a client error. With an
// unpopulated registry any id is accepted verbatim.
func (s *TurnService) resolveModel(requested string) (string, *models.ModelEntry, error) {
	if requested == "" {
		current := s.reg.Current()
		if current == "" {
			if entries := s.reg.Entries(); len(entries) > 0 {
				current = entries[0].ID
			}
		}
		if current == "" {
			return "", nil, fmt.Errorf("%w: no model requested and none active", models.ErrInvalidRequest)
		}
		requested = current
	}
	if s.reg.Empty() {
		return requested, nil, nil
	}
	entry, ok := s.reg.Lookup(requested)
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown model %q", models.ErrInvalidRequest, requested)
	}
	return requested, &entry, nil
}

func (s *TurnService) checkpoint(item *queue.Item) error {
	if item.Disconnected() {
		return models.ErrClientDisconnected
	}
	return nil
}

func (s *TurnService) fail(ctx context.Context, item *queue.Item, traceID string,
	start time.Time, modelID string, err error) queue.Outcome {
	apiErr := models.NewAPIError(item.ID, err)
	status := "error"
	if apiErr.Status == 499 {
		status = "disconnected"
	}
	slog.Warn("Turn failed", "req_id", item.ID, "trace_id", traceID,
		"model", modelID, "status_code", apiErr.Status, "error", err)
	s.logTurn(ctx, item, traceID, start, modelID, "", "", nil, status, err.Error())
	return queue.Outcome{Err: apiErr}
}

func (s *TurnService) logTurn(ctx context.Context, item *queue.Item, traceID string,
	start time.Time, modelID, prompt, response string, usage *models.ChatUsage, status, errStr string) {
	row := &models.RequestLog{
		Timestamp:    start,
		TraceID:      traceID,
		ReqID:        item.ID,
		WorkerID:     s.workerID,
		Source:       s.cfg.ResponseSource,
		Model:        modelID,
		Prompt:       prompt,
		ResponseText: response,
		PromptLen:    len(prompt),
		ParamsJSON:   paramsJSON(item.Request),
		Streamed:     item.Request.Stream,
		DurationMs:   float64(time.Since(start).Milliseconds()),
		Status:       status,
		Error:        errStr,
	}
	if usage != nil {
		row.TokensIn = usage.PromptTokens
		row.TokensOut = usage.CompletionTokens
	}
	if err := s.repo.Request().LogRequest(context.WithoutCancel(ctx), row); err != nil {
		slog.Warn("Request log write failed", "req_id", item.ID, "error", err)
	}
}

// paramsJSON records the effective generation knobs for the log row.
func paramsJSON(req *models.ChatCompletionRequest) string {
	params := map[string]interface{}{}
	if req.Temperature != nil {
		params["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		params["top_p"] = *req.TopP
	}
	if req.MaxOutputTokens != nil {
		params["max_tokens"] = *req.MaxOutputTokens
	}
	if stops := models.NormalizeStop(req.Stop); len(stops) > 0 {
		params["stop"] = stops
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}
