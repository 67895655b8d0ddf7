package sniffer

import (
	"bufio"
	"compress/flate"
	"compress/zlib"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// fragmentRe matches the repeated [[[null, ...]], "model"]-shaped JSON
// fragments embedded in the decoded generation stream.
var fragmentRe = regexp.MustCompile(`\[\[\[null,.*?\]\]\s*,\s*"model"\]`)

// Extractor accumulates decoded response bytes, pulls structured fragments
// out of them, and emits cumulative SnifferTuples as the turn grows. Partial
// or non-JSON fragments are skipped, never fatal.
type Extractor struct {
	emit func(models.SnifferTuple)

	buf       []byte
	scanned   int
	reason    strings.Builder
	body      strings.Builder
	functions []models.FunctionCall
}

func NewExtractor(emit func(models.SnifferTuple)) *Extractor {
	return &Extractor{emit: emit}
}

// Feed appends decoded bytes and scans for newly completed fragments. The
// scan position only advances past complete matches, so a fragment split
// across feeds completes on a later call.
func (e *Extractor) Feed(decoded []byte) {
	e.buf = append(e.buf, decoded...)
	matches := fragmentRe.FindAllIndex(e.buf[e.scanned:], -1)
	if len(matches) == 0 {
		return
	}

	changed := false
	for _, m := range matches {
		frag := e.buf[e.scanned+m[0] : e.scanned+m[1]]
		if e.classify(frag) {
			changed = true
		}
	}
	e.scanned += matches[len(matches)-1][1]

	if changed && e.emit != nil {
		e.emit(e.snapshot(false))
	}
}

// Finish emits the terminal tuple for the turn.
func (e *Extractor) Finish() {
	if e.emit != nil {
		e.emit(e.snapshot(true))
	}
}

func (e *Extractor) snapshot(done bool) models.SnifferTuple {
	return models.SnifferTuple{
		Reason:   e.reason.String(),
		Body:     e.body.String(),
		Function: append([]models.FunctionCall(nil), e.functions...),
		Done:     done,
	}
}

// classify dispatches one fragment by its inner field-count/shape: 2 fields
// is body text, 11 fields with a list-typed last field is a function-call
// batch, anything else beyond 2 is reasoning text.
func (e *Extractor) classify(frag []byte) bool {
	var outer []any
	if err := json.Unmarshal(frag, &outer); err != nil {
		return false
	}
	if len(outer) != 2 {
		return false
	}
	wrap, ok := outer[0].([]any)
	if !ok || len(wrap) == 0 {
		return false
	}
	inner, ok := wrap[0].([]any)
	if !ok || len(inner) < 2 {
		return false
	}

	switch {
	case len(inner) == 2:
		if text, ok := inner[1].(string); ok && text != "" {
			e.body.WriteString(text)
			return true
		}
	case len(inner) == 11:
		if calls, ok := inner[10].([]any); ok {
			return e.appendFunctionCalls(calls)
		}
		fallthrough
	default:
		for _, field := range inner[1:] {
			if text, ok := field.(string); ok && text != "" {
				e.reason.WriteString(text)
				return true
			}
		}
	}
	return false
}

func (e *Extractor) appendFunctionCalls(calls []any) bool {
	added := false
	for _, raw := range calls {
		fc, ok := parseFunctionCall(raw)
		if !ok {
			continue
		}
		e.functions = append(e.functions, fc)
		added = true
	}
	return added
}

// parseFunctionCall tolerates both the positional and the keyed call shape.
func parseFunctionCall(raw any) (models.FunctionCall, bool) {
	switch v := raw.(type) {
	case map[string]any:
		name, _ := v["name"].(string)
		if name == "" {
			return models.FunctionCall{}, false
		}
		params, _ := v["params"].(map[string]any)
		return models.FunctionCall{Name: name, Params: params}, true
	case []any:
		if len(v) == 0 {
			return models.FunctionCall{}, false
		}
		name, _ := v[0].(string)
		if name == "" {
			return models.FunctionCall{}, false
		}
		var params map[string]any
		if len(v) > 1 {
			params, _ = v[1].(map[string]any)
		}
		return models.FunctionCall{Name: name, Params: params}, true
	default:
		return models.FunctionCall{}, false
	}
}

// decodeBody wraps the (already de-chunked) response body with the right
// decompressor. The upstream compresses with raw deflate; zlib framing is
// tried when the magic byte says so, and unrecognized encodings fall back to
// the raw bytes, which degrades to "no fragments matched" rather than an
// error.
func decodeBody(body io.Reader, contentEncoding string) io.Reader {
	enc := strings.ToLower(contentEncoding)
	if enc != "deflate" && enc != "" {
		slog.Debug("Unexpected content encoding, scanning raw bytes", "encoding", contentEncoding)
		return body
	}

	br := bufio.NewReader(body)
	magic, err := br.Peek(2)
	if err != nil {
		return br
	}
	// zlib framing starts 0x78; otherwise assume raw deflate when the header
	// claimed deflate.
	if magic[0] == 0x78 {
		if zr, err := zlib.NewReader(br); err == nil {
			return zr
		}
		return br
	}
	if enc == "deflate" {
		return flate.NewReader(br)
	}
	return br
}
