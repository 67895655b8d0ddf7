package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aigoflow/studio-bridge/internal/models"
)

const (
	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
	doneMarker       = "data: [DONE]\n\n"
)

// Assembler converts a tuple source into the OpenAI wire format, non-stream
// or SSE. One assembler serves one turn.
type Assembler struct {
	reqID   string
	model   string
	created int64

	lastReasonPos int
	lastBodyPos   int
}

func NewAssembler(reqID, model string) *Assembler {
	return &Assembler{
		reqID:   reqID,
		model:   model,
		created: time.Now().Unix(),
	}
}

// drain pulls tuples until the terminal one, returning the final cumulative
// state. The internal-timeout sentinel maps to ErrResponseTimeout.
func (a *Assembler) drain(ctx context.Context, src Source) (models.SnifferTuple, error) {
	for {
		tuple, err := src.Recv(ctx)
		if err != nil {
			return models.SnifferTuple{}, err
		}
		if tuple.InternalTimeout() {
			return tuple, fmt.Errorf("%w: response source went silent", models.ErrResponseTimeout)
		}
		if tuple.Done {
			return tuple, nil
		}
	}
}

// Collect consumes the whole source and returns one chat.completion object.
func (a *Assembler) Collect(ctx context.Context, src Source, messages []models.Message) (*models.ChatCompletion, error) {
	final, err := a.drain(ctx, src)
	if err != nil {
		return nil, err
	}

	finish := "stop"
	var toolCalls []models.ToolCall
	if len(final.Function) > 0 {
		finish = "tool_calls"
		toolCalls = buildToolCalls(final.Function)
	}

	return &models.ChatCompletion{
		ID:      "chatcmpl-" + a.reqID,
		Object:  objectCompletion,
		Created: a.created,
		Model:   a.model,
		Choices: []models.CompletionChoice{{
			Index: 0,
			Message: models.ResponseMessage{
				Role:             models.RoleAssistant,
				Content:          final.Body,
				ReasoningContent: final.Reason,
				ToolCalls:        toolCalls,
			},
			FinishReason: finish,
		}},
		Usage: Usage(messages, final.Body, final.Reason),
	}, nil
}

// StreamSSE consumes the source and writes SSE frames. Once the first frame
// is out the HTTP status is frozen, so any later failure is communicated as
// an in-band error delta followed by the terminal marker; the error is also
// returned for logging.
func (a *Assembler) StreamSSE(ctx context.Context, w io.Writer, src Source, messages []models.Message) error {
	role := models.RoleAssistant
	if err := a.writeChunk(w, models.ChunkChoice{Index: 0, Delta: models.Delta{Role: role}}, nil); err != nil {
		return err
	}

	var body, reason string
	for {
		tuple, err := src.Recv(ctx)
		if err == nil && tuple.InternalTimeout() {
			err = fmt.Errorf("%w: response source went silent", models.ErrResponseTimeout)
		}
		if err != nil {
			a.writeError(w, err)
			a.writeDone(w)
			return err
		}

		if delta := suffix(tuple.Reason, &a.lastReasonPos); delta != "" {
			reason = tuple.Reason
			if err := a.writeChunk(w, models.ChunkChoice{Index: 0, Delta: models.Delta{ReasoningContent: delta}}, nil); err != nil {
				return err
			}
		}
		if delta := suffix(tuple.Body, &a.lastBodyPos); delta != "" {
			body = tuple.Body
			if err := a.writeChunk(w, models.ChunkChoice{Index: 0, Delta: models.Delta{Content: delta}}, nil); err != nil {
				return err
			}
		}

		if tuple.Done {
			finish := "stop"
			delta := models.Delta{}
			if len(tuple.Function) > 0 {
				finish = "tool_calls"
				delta.ToolCalls = buildToolCalls(tuple.Function)
			}
			if err := a.writeChunk(w, models.ChunkChoice{Index: 0, Delta: delta, FinishReason: &finish}, nil); err != nil {
				return err
			}
			usage := Usage(messages, body, reason)
			if err := a.writeUsage(w, usage); err != nil {
				return err
			}
			a.writeDone(w)
			return nil
		}
	}
}

// suffix returns the unseen tail of a monotonically growing string and
// advances the position. A shrinking string (upstream restart) re-emits from
// the new end rather than duplicating.
func suffix(s string, pos *int) string {
	if len(s) <= *pos {
		if len(s) < *pos {
			*pos = len(s)
		}
		return ""
	}
	out := s[*pos:]
	*pos = len(s)
	return out
}

func buildToolCalls(calls []models.FunctionCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for i, fc := range calls {
		args, err := json.Marshal(fc.Params)
		if err != nil {
			args = []byte("{}")
		}
		out = append(out, models.ToolCall{
			Index: i,
			ID:    "call_" + uuid.NewString(),
			Type:  "function",
			Function: models.ToolFunction{
				Name:      fc.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

func (a *Assembler) writeChunk(w io.Writer, choice models.ChunkChoice, usage *models.ChatUsage) error {
	chunk := models.ChatCompletionChunk{
		ID:      "chatcmpl-" + a.reqID,
		Object:  objectChunk,
		Created: a.created,
		Model:   a.model,
		Choices: []models.ChunkChoice{choice},
		Usage:   usage,
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flush(w)
	return nil
}

func (a *Assembler) writeUsage(w io.Writer, usage models.ChatUsage) error {
	chunk := models.ChatCompletionChunk{
		ID:      "chatcmpl-" + a.reqID,
		Object:  objectChunk,
		Created: a.created,
		Model:   a.model,
		Choices: []models.ChunkChoice{},
		Usage:   &usage,
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flush(w)
	return nil
}

// writeError emits the in-band error frame used after headers are committed.
func (a *Assembler) writeError(w io.Writer, cause error) {
	apiErr := models.NewAPIError(a.reqID, cause)
	payload, err := json.Marshal(map[string]any{"error": apiErr})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flush(w)
}

func (a *Assembler) writeDone(w io.Writer) {
	io.WriteString(w, doneMarker)
	flush(w)
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
