package models

// InternalTimeoutReason marks a tuple emitted when the sniffer stayed silent
// past its bounded empty-read count.
const InternalTimeoutReason = "internal_timeout"

// FunctionCall is one function invocation extracted from the generation
// stream.
type FunctionCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// SnifferTuple is the wire contract between the sniffer process and the
// stream assembler. Reason and Body grow monotonically; consumers track
// positions and emit only the suffix.
type SnifferTuple struct {
	Reason   string         `json:"reason"`
	Body     string         `json:"body"`
	Function []FunctionCall `json:"function"`
	Done     bool           `json:"done"`
}

// InternalTimeout reports whether this tuple is the sniffer-silence sentinel.
func (t SnifferTuple) InternalTimeout() bool {
	return t.Reason == InternalTimeoutReason
}
