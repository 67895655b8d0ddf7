package sniffer

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
	"strings"
	"testing"

	"github.com/aigoflow/studio-bridge/internal/models"
)

func collectTuples() (*[]models.SnifferTuple, func(models.SnifferTuple)) {
	tuples := &[]models.SnifferTuple{}
	return tuples, func(t models.SnifferTuple) { *tuples = append(*tuples, t) }
}

func TestExtractorBodyFragments(t *testing.T) {
	tuples, emit := collectTuples()
	e := NewExtractor(emit)

	e.Feed([]byte(`garbage [[[null,"Hello "]],"model"] noise [[[null,"world"]],"model"] tail`))
	e.Finish()

	if len(*tuples) != 2 {
		t.Fatalf("Expected 1 progress + 1 done tuple, got %d", len(*tuples))
	}
	final := (*tuples)[1]
	if !final.Done {
		t.Error("Finish must emit a done tuple")
	}
	if final.Body != "Hello world" {
		t.Errorf("Body = %q, want %q", final.Body, "Hello world")
	}
}

func TestExtractorReasoningFragment(t *testing.T) {
	tuples, emit := collectTuples()
	e := NewExtractor(emit)

	e.Feed([]byte(`[[[null,"thinking about it",null]],"model"]`))
	e.Feed([]byte(`[[[null,"final answer"]],"model"]`))
	e.Finish()

	final := (*tuples)[len(*tuples)-1]
	if final.Reason != "thinking about it" {
		t.Errorf("Reason = %q", final.Reason)
	}
	if final.Body != "final answer" {
		t.Errorf("Body = %q", final.Body)
	}
}

func TestExtractorFunctionCallFragment(t *testing.T) {
	tuples, emit := collectTuples()
	e := NewExtractor(emit)

	e.Feed([]byte(`[[[null,1,2,3,4,5,6,7,8,9,[["get_weather",{"city":"Berlin"}]]]],"model"]`))
	e.Finish()

	final := (*tuples)[len(*tuples)-1]
	if len(final.Function) != 1 {
		t.Fatalf("Expected 1 function call, got %d", len(final.Function))
	}
	fc := final.Function[0]
	if fc.Name != "get_weather" {
		t.Errorf("Function name = %q", fc.Name)
	}
	if city, _ := fc.Params["city"].(string); city != "Berlin" {
		t.Errorf("Function params = %v", fc.Params)
	}
}

func TestExtractorFragmentSplitAcrossFeeds(t *testing.T) {
	tuples, emit := collectTuples()
	e := NewExtractor(emit)

	full := `[[[null,"split across feeds"]],"model"]`
	e.Feed([]byte(full[:15]))
	if len(*tuples) != 0 {
		t.Fatal("Partial fragment must not emit")
	}
	e.Feed([]byte(full[15:]))
	if len(*tuples) != 1 {
		t.Fatalf("Completed fragment should emit exactly once, got %d", len(*tuples))
	}
	if (*tuples)[0].Body != "split across feeds" {
		t.Errorf("Body = %q", (*tuples)[0].Body)
	}
}

func TestExtractorSkipsNonTextFragments(t *testing.T) {
	tuples, emit := collectTuples()
	e := NewExtractor(emit)

	// Matches the fragment shape but carries no extractable text.
	e.Feed([]byte(`[[[null,42]],"model"]`))
	if len(*tuples) != 0 {
		t.Errorf("Textless fragment should not emit, got %d tuples", len(*tuples))
	}
}

func TestDecodeBodyRawDeflate(t *testing.T) {
	var compressed bytes.Buffer
	fw, _ := flate.NewWriter(&compressed, flate.DefaultCompression)
	io.WriteString(fw, "deflated payload")
	fw.Close()

	out, err := io.ReadAll(decodeBody(&compressed, "deflate"))
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if string(out) != "deflated payload" {
		t.Errorf("Decoded = %q", out)
	}
}

func TestDecodeBodyZlib(t *testing.T) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	io.WriteString(zw, "zlib payload")
	zw.Close()

	out, err := io.ReadAll(decodeBody(&compressed, "deflate"))
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if string(out) != "zlib payload" {
		t.Errorf("Decoded = %q", out)
	}
}

func TestDecodeBodyUnknownEncodingPassthrough(t *testing.T) {
	out, err := io.ReadAll(decodeBody(strings.NewReader("raw bytes"), "br"))
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if string(out) != "raw bytes" {
		t.Errorf("Passthrough = %q", out)
	}
}
