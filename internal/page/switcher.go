package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// ModelSwitcher reconciles the requested model against the page through the
// persisted client-side preference blob. The host UI only fully applies
// preference changes on navigation, so every transition re-navigates to the
// canonical new-chat URL.
type ModelSwitcher struct {
	mu   sync.Mutex
	ctrl *Controller
	reg  *models.Registry
}

func NewModelSwitcher(ctrl *Controller, reg *models.Registry) *ModelSwitcher {
	return &ModelSwitcher{ctrl: ctrl, reg: reg}
}

// Switch makes targetID the active model, verifying both the persisted
// preference and the displayed model name, and reverting on failure.
func (s *ModelSwitcher) Switch(ctx context.Context, reqID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ctrl
	targetPath := models.ModelPathFromID(targetID)

	originalBlob, prefs, err := s.readPrefs(ctx)
	if err != nil {
		return fmt.Errorf("read model preference: %w", err)
	}

	currentPath, _ := prefs["promptModel"].(string)
	if currentPath == targetPath {
		if c.Page().URL() != c.NewChatURL() {
			if err := s.navigateNewChat(ctx); err != nil {
				return err
			}
		}
		s.reg.SetCurrent(targetID)
		return nil
	}

	slog.Info("Switching model", "req_id", reqID, "from", currentPath, "to", targetPath)
	prefs["promptModel"] = targetPath
	if err := s.writePrefs(ctx, prefs); err != nil {
		return fmt.Errorf("write model preference: %w", err)
	}
	if err := s.navigateNewChat(ctx); err != nil {
		return err
	}

	if s.verify(ctx, targetID, targetPath) {
		s.reg.SetCurrent(targetID)
		return nil
	}

	activeID, displayed := s.revert(ctx, originalBlob)
	c.Snapshot(ctx, reqID, "model_switch_rejected")
	return fmt.Errorf("%w: wanted %q, page shows %q (active id %q)",
		models.ErrModelSwitchRejected, targetID, displayed, activeID)
}

// verify checks the persisted preference and, when the model table is
// populated, the displayed model name. With an empty table the localStorage
// write is trusted as sufficient.
func (s *ModelSwitcher) verify(ctx context.Context, targetID, targetPath string) bool {
	_, prefs, err := s.readPrefs(ctx)
	if err != nil {
		return false
	}
	if path, _ := prefs["promptModel"].(string); path != targetPath {
		return false
	}
	if s.reg.Empty() {
		return true
	}
	displayed := s.displayedModelName(ctx)
	entry, ok := s.reg.LookupByDisplayName(displayed)
	return ok && entry.ID == targetID
}

// revert maps whatever the page actually displays back to a model id and
// repoints the preference at it; if the displayed name cannot be mapped, the
// pre-switch preference blob is restored wholesale. Returns the id now
// considered active and the displayed name.
func (s *ModelSwitcher) revert(ctx context.Context, originalBlob string) (string, string) {
	displayed := s.displayedModelName(ctx)

	if entry, ok := s.reg.LookupByDisplayName(displayed); ok {
		_, prefs, err := s.readPrefs(ctx)
		if err == nil {
			prefs["promptModel"] = entry.RawModelPath
			if s.writePrefs(ctx, prefs) == nil && s.navigateNewChat(ctx) == nil {
				s.reg.SetCurrent(entry.ID)
				return entry.ID, displayed
			}
		}
	}

	// Fall back to restoring the pre-switch blob verbatim.
	if originalBlob != "" {
		if err := s.ctrl.writeStorage(ctx, prefsStorageKey, originalBlob); err == nil {
			_ = s.navigateNewChat(ctx)
		}
		var prefs map[string]any
		if json.Unmarshal([]byte(originalBlob), &prefs) == nil {
			if path, _ := prefs["promptModel"].(string); path != "" {
				id := models.ModelIDFromPath(path)
				s.reg.SetCurrent(id)
				return id, displayed
			}
		}
	}
	return s.reg.Current(), displayed
}

func (s *ModelSwitcher) displayedModelName(ctx context.Context) string {
	opCtx, cancel := context.WithTimeout(ctx, s.ctrl.cfg.PageOpTimeout)
	defer cancel()
	name, err := s.ctrl.page.Locator(selModelName).TextContent(opCtx)
	if err != nil {
		return ""
	}
	return name
}

func (s *ModelSwitcher) navigateNewChat(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.ctrl.cfg.SubmitTimeout)
	defer cancel()
	if err := s.ctrl.page.Goto(opCtx, s.ctrl.NewChatURL()); err != nil {
		return fmt.Errorf("navigate to new chat: %w", err)
	}
	if err := s.ctrl.page.Locator(selPromptInput).WaitVisible(opCtx, s.ctrl.cfg.SubmitTimeout); err != nil {
		return fmt.Errorf("prompt input after navigation: %w", err)
	}
	return nil
}

func (s *ModelSwitcher) readPrefs(ctx context.Context) (string, map[string]any, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.ctrl.cfg.PageOpTimeout)
	defer cancel()
	raw, err := s.ctrl.readStorage(opCtx, prefsStorageKey)
	if err != nil {
		return "", nil, err
	}
	prefs := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
			prefs = map[string]any{}
		}
	}
	return raw, prefs, nil
}

func (s *ModelSwitcher) writePrefs(ctx context.Context, prefs map[string]any) error {
	blob, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.ctrl.cfg.PageOpTimeout)
	defer cancel()
	return s.ctrl.writeStorage(opCtx, prefsStorageKey, string(blob))
}
