package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles accepted on /v1/chat/completions.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentPart is one element of a multi-part message content array.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessageContent accepts the three content encodings OpenAI clients send:
// a plain string, an ordered list of {type,text} parts, or null.
type MessageContent struct {
	Text  string
	Parts []ContentPart
	IsNil bool
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		c.IsNil = true
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		return json.Unmarshal(data, &c.Text)
	}
	if err := json.Unmarshal(data, &c.Parts); err != nil {
		return fmt.Errorf("content must be string, array of parts, or null: %w", err)
	}
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsNil {
		return []byte("null"), nil
	}
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String flattens the content to plain text, joining parts in order.
func (c MessageContent) String() string {
	if c.IsNil {
		return ""
	}
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// ToolCall mirrors the OpenAI function-calling shape.
type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction holds the tool name and JSON-encoded arguments string.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry of the request messages array.
type Message struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// StringOrSlice accepts "stop": "foo" as well as "stop": ["foo"].
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StringOrSlice{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("stop must be string or array of strings: %w", err)
	}
	*s = many
	return nil
}

// ChatCompletionRequest is the accepted subset of the OpenAI request schema.
// Immutable once enqueued.
type ChatCompletionRequest struct {
	Model           string        `json:"model,omitempty"`
	Messages        []Message     `json:"messages"`
	Stream          bool          `json:"stream,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	TopP            *float64      `json:"top_p,omitempty"`
	MaxOutputTokens *int          `json:"max_tokens,omitempty"`
	Stop            StringOrSlice `json:"stop,omitempty"`
}

// Validate enforces the message-set invariants: at least one message, and at
// least one that is not a system message.
func (r *ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	nonSystem := 0
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem:
		case RoleUser, RoleAssistant, RoleTool:
			nonSystem++
		default:
			return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, m.Role)
		}
	}
	if nonSystem == 0 {
		return fmt.Errorf("%w: at least one non-system message is required", ErrInvalidRequest)
	}
	return nil
}

// BuildPrompt flattens the message history into the single text block typed
// into the page input. Only one leading system message contributes; system
// messages appearing later in the history are dropped.
func BuildPrompt(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		text := m.Content.String()
		switch m.Role {
		case RoleSystem:
			if i == 0 && text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
		case RoleUser:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		case RoleAssistant:
			if text != "" {
				b.WriteString("\nAssistant: ")
				b.WriteString(text)
			}
		case RoleTool:
			if text != "" {
				b.WriteString("\nTool result: ")
				b.WriteString(text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeStop trims, drops empties, and dedupes stop sequences while
// keeping first-seen order. "foo" and ["foo"] normalize identically.
func NormalizeStop(stop StringOrSlice) []string {
	seen := make(map[string]bool, len(stop))
	out := make([]string, 0, len(stop))
	for _, s := range stop {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ChatUsage holds heuristic token counts. Always an approximation here: the
// upstream page never reports real usage.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseMessage is the assistant message in a non-streaming response.
type ResponseMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// CompletionChoice is a choice in a non-streaming completion response.
type CompletionChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ChatCompletion is the non-streaming response object.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   ChatUsage          `json:"usage"`
}

// Delta carries incremental content in a streaming chunk. Reasoning deltas
// use the reasoning_content extension carried by several OpenAI-compatible
// gateways.
type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is a choice in a streaming chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is one SSE data frame.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *ChatUsage    `json:"usage,omitempty"`
}

// APIModel is one entry of the /v1/models listing.
type APIModel struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// APIModelList is the /v1/models response envelope.
type APIModelList struct {
	Object string     `json:"object"`
	Data   []APIModel `json:"data"`
}
