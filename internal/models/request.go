package models

import "time"

// RequestLog represents a logged completion turn.
type RequestLog struct {
	Timestamp    time.Time `json:"ts"`
	TraceID      string    `json:"trace_id"`
	ReqID        string    `json:"req_id"`
	WorkerID     string    `json:"worker_id"`
	Source       string    `json:"source"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	ResponseText string    `json:"response_text"`
	PromptLen    int       `json:"prompt_len"`
	ParamsJSON   string    `json:"params_json"`
	Streamed     bool      `json:"streamed"`
	TokensIn     int       `json:"tokens_in"`
	TokensOut    int       `json:"tokens_out"`
	DurationMs   float64   `json:"dur_ms"`
	Status       string    `json:"status"`
	Error        string    `json:"error"`
}
