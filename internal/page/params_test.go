package page

import (
	"context"
	"testing"
	"time"

	"github.com/aigoflow/studio-bridge/internal/browser"
	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/models"
)

func TestClampTemperature(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {1, 1}, {2, 2}, {5, 2},
	}
	for _, c := range cases {
		if got := ClampTemperature(c.in); got != c.want {
			t.Errorf("ClampTemperature(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestClampTopP(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.5, 1},
	}
	for _, c := range cases {
		if got := ClampTopP(c.in); got != c.want {
			t.Errorf("ClampTopP(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestClampMaxOutputTokens(t *testing.T) {
	cases := []struct{ in, cap, want int }{
		{0, 1000, 1},
		{-5, 1000, 1},
		{500, 1000, 500},
		{5000, 1000, 1000},
		{100000, 0, 65536}, // missing cap falls back to 65536
	}
	for _, c := range cases {
		if got := ClampMaxOutputTokens(c.in, c.cap); got != c.want {
			t.Errorf("ClampMaxOutputTokens(%d, %d) = %d, want %d", c.in, c.cap, got, c.want)
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:                 "https://studio.example",
		NewChatPath:             "/prompts/new_chat",
		PageOpTimeout:           200 * time.Millisecond,
		SubmitTimeout:           200 * time.Millisecond,
		SubmitRetries:           2,
		CompletionPollInterval:  time.Millisecond,
		CompletionCheckTimeout:  100 * time.Millisecond,
		CompletionTimeout:       500 * time.Millisecond,
		EditButtonWait:          100 * time.Millisecond,
		CompletionHeuristicHits: 2,
		DefaultTemperature:      1.0,
		DefaultMaxOutputTokens:  65536,
		DefaultTopP:             0.95,
		SnapshotDir:             "", // snapshots disabled in tests
		StreamChunkSize:         8,
	}
}

// paramPage builds a fake page exposing the three numeric controls and the
// stop-sequence chip row.
func paramPage() *browser.FakePage {
	p := browser.NewFakePage()
	p.SetElement(selTemperatureInput, &browser.FakeElement{Visible: true, Enabled: true})
	p.SetElement(selMaxTokensInput, &browser.FakeElement{Visible: true, Enabled: true})
	p.SetElement(selTopPInput, &browser.FakeElement{Visible: true, Enabled: true})
	p.SetElement(selStopSeqInput, &browser.FakeElement{Visible: true, Enabled: true})
	return p
}

func countingFills(p *browser.FakePage, selectors ...string) *int {
	fills := new(int)
	for _, sel := range selectors {
		el := p.Element(sel)
		el.OnFill = func(_ *browser.FakePage, _ string) { *fills++ }
	}
	return fills
}

func TestSetParametersCacheIdempotence(t *testing.T) {
	cfg := testConfig()
	p := paramPage()
	fills := countingFills(p, selTemperatureInput, selMaxTokensInput, selTopPInput)

	reg := models.NewRegistry()
	reg.SetCurrent("gemini-2.5-pro")
	ctrl := NewController(p, cfg, reg, nil)

	temp := 0.7
	req := &models.ChatCompletionRequest{Temperature: &temp}

	if err := ctrl.SetParameters(context.Background(), "req0001", req, nil); err != nil {
		t.Fatalf("First SetParameters: %v", err)
	}
	if *fills != 3 {
		t.Fatalf("First pass should write each numeric control exactly once, got %d fills", *fills)
	}

	// Second pass with identical values must not touch the page at all.
	*fills = 0
	if err := ctrl.SetParameters(context.Background(), "req0002", req, nil); err != nil {
		t.Fatalf("Second SetParameters: %v", err)
	}
	if *fills != 0 {
		t.Errorf("Cached pass performed %d page writes, want 0", *fills)
	}
}

func TestSetParametersInvalidatesOnModelChange(t *testing.T) {
	cfg := testConfig()
	p := paramPage()
	fills := countingFills(p, selTemperatureInput, selMaxTokensInput, selTopPInput)

	reg := models.NewRegistry()
	reg.SetCurrent("model-a")
	ctrl := NewController(p, cfg, reg, nil)

	req := &models.ChatCompletionRequest{}
	if err := ctrl.SetParameters(context.Background(), "req0001", req, nil); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}

	// Same values under a different model: the cache no longer vouches for the
	// page, but the live reads still match so no fills happen.
	*fills = 0
	reg.SetCurrent("model-b")
	if err := ctrl.SetParameters(context.Background(), "req0002", req, nil); err != nil {
		t.Fatalf("SetParameters after model change: %v", err)
	}
	if *fills != 0 {
		t.Errorf("Live values already matched; expected 0 fills, got %d", *fills)
	}
}

func TestSetParametersVerifyFailureDegrades(t *testing.T) {
	cfg := testConfig()
	p := paramPage()

	// The temperature control rejects writes: its value snaps back.
	el := p.Element(selTemperatureInput)
	el.OnFill = func(pg *browser.FakePage, _ string) {
		pg.Element(selTemperatureInput).Value = "1"
	}

	reg := models.NewRegistry()
	reg.SetCurrent("gemini-2.5-pro")
	ctrl := NewController(p, cfg, reg, nil)

	temp := 0.2
	req := &models.ChatCompletionRequest{Temperature: &temp}
	if err := ctrl.SetParameters(context.Background(), "req0001", req, nil); err != nil {
		t.Fatalf("Verification failure must not fail the turn: %v", err)
	}
	if _, ok := ctrl.Cache().Get(paramTemperature); ok {
		t.Error("Failed verification should leave the key evicted")
	}
}

func TestStopSequencesWrittenAndVerified(t *testing.T) {
	cfg := testConfig()
	p := paramPage()

	chip := p.SetElement(selStopSeqChip, &browser.FakeElement{})
	chip.N = 0
	p.Keyboard().(*browser.FakeKeyboard).OnPress = func(keys string) {
		if keys == "Enter" {
			chip.N++
		}
	}

	reg := models.NewRegistry()
	reg.SetCurrent("gemini-2.5-pro")
	ctrl := NewController(p, cfg, reg, nil)

	req := &models.ChatCompletionRequest{Stop: models.StringOrSlice{"END", "STOP"}}
	if err := ctrl.SetParameters(context.Background(), "req0001", req, nil); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	if chip.N != 2 {
		t.Errorf("Expected 2 stop chips, got %d", chip.N)
	}
	if cached, ok := ctrl.Cache().Get(paramStopSequences); !ok || cached != "END\nSTOP" {
		t.Errorf("Stop cache = %q, %v", cached, ok)
	}
}
