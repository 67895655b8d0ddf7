package page

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aigoflow/studio-bridge/internal/browser"
	"github.com/aigoflow/studio-bridge/internal/models"
)

func detectorPage(inputValue string, submitEnabled bool) *browser.FakePage {
	p := browser.NewFakePage()
	p.SetElement(selPromptInput, &browser.FakeElement{Visible: true, Value: inputValue})
	p.SetElement(selSubmitButton, &browser.FakeElement{Visible: true, Enabled: submitEnabled})
	p.SetElement(selLastTurn, &browser.FakeElement{Visible: true})
	return p
}

func TestDetectorConfirmsViaEditButton(t *testing.T) {
	p := detectorPage("", false)
	p.SetElement(selEditButton, &browser.FakeElement{Visible: true})

	ctrl := NewController(p, testConfig(), models.NewRegistry(), nil)
	det := NewDetector(ctrl)

	conf, err := det.Wait(context.Background(), "req0001")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if conf != ConfirmedEdit {
		t.Errorf("Confirmation = %s, want edit_button", conf)
	}
}

func TestDetectorConfirmsViaHeuristic(t *testing.T) {
	// Primary condition holds but the edit affordance never shows.
	p := detectorPage("", false)

	ctrl := NewController(p, testConfig(), models.NewRegistry(), nil)
	det := NewDetector(ctrl)

	conf, err := det.Wait(context.Background(), "req0001")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if conf != ConfirmedHeuristic {
		t.Errorf("Confirmation = %s, want heuristic", conf)
	}
}

func TestDetectorSurfacesModelError(t *testing.T) {
	p := detectorPage("", false)
	p.SetElement(selErrorPanel, &browser.FakeElement{Visible: true, Text: "  Model overloaded  "})

	ctrl := NewController(p, testConfig(), models.NewRegistry(), nil)
	det := NewDetector(ctrl)

	_, err := det.Wait(context.Background(), "req0001")
	if !errors.Is(err, models.ErrUpstreamPageError) {
		t.Fatalf("Expected ErrUpstreamPageError, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "Model overloaded") {
		t.Errorf("Error should carry the page's own text: %q", got)
	}
}

func TestDetectorTimesOut(t *testing.T) {
	// Input never empties: generation appears stuck.
	p := detectorPage("still typing", true)

	cfg := testConfig()
	cfg.CompletionTimeout = 30 * time.Millisecond
	ctrl := NewController(p, cfg, models.NewRegistry(), nil)
	det := NewDetector(ctrl)

	_, err := det.Wait(context.Background(), "req0001")
	if !errors.Is(err, models.ErrResponseTimeout) {
		t.Fatalf("Expected ErrResponseTimeout, got %v", err)
	}
}

func TestDetectorHonorsCancellation(t *testing.T) {
	p := detectorPage("still typing", true)
	ctrl := NewController(p, testConfig(), models.NewRegistry(), nil)
	det := NewDetector(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := det.Wait(ctx, "req0001")
	if !errors.Is(err, models.ErrClientDisconnected) {
		t.Fatalf("Expected ErrClientDisconnected, got %v", err)
	}
}
