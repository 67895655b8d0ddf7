package page

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aigoflow/studio-bridge/internal/browser"
	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/models"
)

// EventLogger is the slice of the repository the controller needs for
// diagnostic event rows.
type EventLogger interface {
	LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error
}

// Controller owns every direct interaction with the single browser page.
// All mutating methods assume the caller holds the processing lock.
type Controller struct {
	page         browser.Page
	cfg          *config.Config
	reg          *models.Registry
	cache        *ParamCache
	events       EventLogger
	defaultsHash string
}

func NewController(p browser.Page, cfg *config.Config, reg *models.Registry, events EventLogger) *Controller {
	return &Controller{
		page:         p,
		cfg:          cfg,
		reg:          reg,
		cache:        NewParamCache(),
		events:       events,
		defaultsHash: hashDefaults(cfg),
	}
}

// hashDefaults fingerprints the configured default parameter values; a
// changed default must invalidate the whole cache.
func hashDefaults(cfg *config.Config) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v|%v|%v|%v", cfg.DefaultTemperature, cfg.DefaultMaxOutputTokens,
		cfg.DefaultTopP, cfg.DefaultStop)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Page exposes the underlying page for collaborators (switcher, detector).
func (c *Controller) Page() browser.Page { return c.page }

// Cache exposes the parameter cache for admin reset and tests.
func (c *Controller) Cache() *ParamCache { return c.cache }

// NewChatURL is the canonical URL that fully applies preference changes.
func (c *Controller) NewChatURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.NewChatPath
}

// ClearChat resets the conversation so the next turn starts from an empty
// history. The confirm dialog only appears when there is something to clear.
func (c *Controller) ClearChat(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.PageOpTimeout)
	defer cancel()

	clear := c.page.Locator(selClearChat)
	visible, err := clear.IsVisible(opCtx)
	if err != nil || !visible {
		return nil
	}
	if err := clear.Click(opCtx); err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	confirm := c.page.Locator(selClearConfirm)
	if visible, _ := confirm.IsVisible(opCtx); visible {
		if err := confirm.Click(opCtx); err != nil {
			return fmt.Errorf("confirm clear: %w", err)
		}
	}
	return nil
}

// CheckModelError looks for a page-rendered error affordance (inline panel or
// toast) and returns its text.
func (c *Controller) CheckModelError(ctx context.Context) (string, bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.CompletionCheckTimeout)
	defer cancel()

	for _, sel := range []string{selErrorPanel, selErrorToast} {
		loc := c.page.Locator(sel)
		if visible, err := loc.IsVisible(opCtx); err == nil && visible {
			text, err := loc.TextContent(opCtx)
			if err == nil {
				return strings.TrimSpace(text), true
			}
		}
	}
	return "", false
}

// Snapshot captures screenshot + HTML into the snapshot directory and records
// an event row. Best effort: snapshot failures are logged, never propagated.
func (c *Controller) Snapshot(ctx context.Context, reqID, label string) string {
	if err := os.MkdirAll(c.cfg.SnapshotDir, 0755); err != nil {
		slog.Warn("Snapshot dir unavailable", "error", err)
		return ""
	}
	stamp := time.Now().Format("20060102-150405.000")
	base := filepath.Join(c.cfg.SnapshotDir, fmt.Sprintf("%s_%s_%s", stamp, reqID, label))

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PageOpTimeout)
	defer cancel()

	if png, err := c.page.Screenshot(opCtx); err == nil {
		if err := os.WriteFile(base+".png", png, 0644); err != nil {
			slog.Warn("Snapshot write failed", "file", base+".png", "error", err)
		}
	}
	if html, err := c.page.Content(opCtx); err == nil {
		if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
			slog.Warn("Snapshot write failed", "file", base+".html", "error", err)
		}
	}
	if c.events != nil {
		c.events.LogEvent(opCtx, "warn", "snapshot", "Diagnostic snapshot captured", map[string]interface{}{
			"req_id": reqID,
			"label":  label,
			"path":   base,
		})
	}
	slog.Warn("Diagnostic snapshot captured", "req_id", reqID, "label", label, "path", base)
	return base
}

// readStorage returns the raw value for a localStorage key, "" when unset.
func (c *Controller) readStorage(ctx context.Context, key string) (string, error) {
	v, err := c.page.Evaluate(ctx, scriptGetStorage, key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *Controller) writeStorage(ctx context.Context, key, value string) error {
	_, err := c.page.Evaluate(ctx, scriptSetStorage, []string{key, value})
	return err
}
