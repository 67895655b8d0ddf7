package page

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aigoflow/studio-bridge/internal/browser"
	"github.com/aigoflow/studio-bridge/internal/models"
)

func switchPage(prefPath, displayed string) *browser.FakePage {
	p := browser.NewFakePage()
	p.SetElement(selPromptInput, &browser.FakeElement{Visible: true, Enabled: true})
	p.SetElement(selModelName, &browser.FakeElement{Visible: true, Text: displayed})
	if prefPath != "" {
		blob, _ := json.Marshal(map[string]any{"promptModel": prefPath})
		p.LocalStorage[prefsStorageKey] = string(blob)
	}
	return p
}

func switchRegistry() *models.Registry {
	reg := models.NewRegistry()
	reg.SetEntries([]models.ModelEntry{
		{ID: "model-a", DisplayName: "Model A", RawModelPath: "models/model-a"},
		{ID: "model-b", DisplayName: "Model B", RawModelPath: "models/model-b"},
	})
	return reg
}

func storedPromptModel(t *testing.T, p *browser.FakePage) string {
	t.Helper()
	var prefs map[string]any
	if err := json.Unmarshal([]byte(p.LocalStorage[prefsStorageKey]), &prefs); err != nil {
		t.Fatalf("Preference blob unparseable: %v", err)
	}
	path, _ := prefs["promptModel"].(string)
	return path
}

func TestSwitchSuccess(t *testing.T) {
	p := switchPage("models/model-a", "Model B") // page will display B after nav
	reg := switchRegistry()
	reg.SetCurrent("model-a")
	ctrl := NewController(p, testConfig(), reg, nil)
	sw := NewModelSwitcher(ctrl, reg)

	navs := 0
	p.OnGoto = func(url string) { navs++ }

	if err := sw.Switch(context.Background(), "req0001", "model-b"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if got := storedPromptModel(t, p); got != "models/model-b" {
		t.Errorf("Stored preference = %q", got)
	}
	if reg.Current() != "model-b" {
		t.Errorf("Current = %q, want model-b", reg.Current())
	}
	if navs == 0 {
		t.Error("A model transition must re-navigate to the new-chat URL")
	}
}

func TestSwitchShortCircuitWhenAlreadyActive(t *testing.T) {
	p := switchPage("models/model-b", "Model B")
	reg := switchRegistry()
	ctrl := NewController(p, testConfig(), reg, nil)
	sw := NewModelSwitcher(ctrl, reg)

	// Already parked on the canonical URL with the right preference.
	if err := p.Goto(context.Background(), ctrl.NewChatURL()); err != nil {
		t.Fatal(err)
	}
	navs := 0
	p.OnGoto = func(url string) { navs++ }

	if err := sw.Switch(context.Background(), "req0001", "model-b"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if navs != 0 {
		t.Errorf("No-op switch should not navigate, got %d navigations", navs)
	}
	if reg.Current() != "model-b" {
		t.Errorf("Current = %q", reg.Current())
	}
}

func TestSwitchRejectedReverts(t *testing.T) {
	// The page keeps displaying Model A no matter what the preference says.
	p := switchPage("models/model-a", "Model A")
	reg := switchRegistry()
	reg.SetCurrent("model-a")
	ctrl := NewController(p, testConfig(), reg, nil)
	sw := NewModelSwitcher(ctrl, reg)

	err := sw.Switch(context.Background(), "req0001", "model-b")
	if !errors.Is(err, models.ErrModelSwitchRejected) {
		t.Fatalf("Expected ErrModelSwitchRejected, got %v", err)
	}
	if got := storedPromptModel(t, p); got != "models/model-a" {
		t.Errorf("Preference should be reverted to the displayed model, got %q", got)
	}
	if reg.Current() != "model-a" {
		t.Errorf("Current = %q, want model-a after revert", reg.Current())
	}
}

func TestSwitchTrustsPreferenceWithEmptyTable(t *testing.T) {
	p := switchPage("", "")
	reg := models.NewRegistry()
	ctrl := NewController(p, testConfig(), reg, nil)
	sw := NewModelSwitcher(ctrl, reg)

	if err := sw.Switch(context.Background(), "req0001", "unlisted-model"); err != nil {
		t.Fatalf("Switch with empty table should trust the preference write: %v", err)
	}
	if got := storedPromptModel(t, p); got != "models/unlisted-model" {
		t.Errorf("Stored preference = %q", got)
	}
}
