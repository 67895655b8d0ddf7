package page

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// submitModifier picks the platform shortcut modifier. The explicit OS hint
// wins; otherwise the page's own user agent decides.
func (c *Controller) submitModifier(ctx context.Context) string {
	hint := strings.ToLower(c.cfg.OSHint)
	if hint == "" {
		if ua, err := c.page.Evaluate(ctx, scriptUserAgent, nil); err == nil {
			if s, ok := ua.(string); ok {
				hint = strings.ToLower(s)
			}
		}
	}
	if strings.Contains(hint, "mac") || strings.Contains(hint, "darwin") {
		return "Meta"
	}
	return "Control"
}

// Submit writes the prompt into the input and fires the turn. Primary path is
// the keyboard shortcut; if submission cannot be confirmed within the bounded
// retry loop, it falls back to clicking the submit control.
func (c *Controller) Submit(ctx context.Context, prompt string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	input := c.page.Locator(selPromptInput)
	if err := input.WaitVisible(opCtx, c.cfg.SubmitTimeout); err != nil {
		return fmt.Errorf("prompt input never became visible: %w", err)
	}
	if _, err := c.page.Evaluate(opCtx, scriptSetInput, prompt); err != nil {
		return fmt.Errorf("set prompt input: %w", err)
	}

	submit := c.page.Locator(selSubmitButton)
	if err := submit.WaitEnabled(opCtx, c.cfg.SubmitTimeout); err != nil {
		return fmt.Errorf("submit control never became enabled: %w", err)
	}

	turns := c.page.Locator(selResponseTurn)
	turnsBefore, _ := turns.Count(opCtx)

	modifier := c.submitModifier(opCtx)
	for attempt := 0; attempt < c.cfg.SubmitRetries; attempt++ {
		if err := c.page.Keyboard().Press(opCtx, modifier+"+Enter"); err != nil {
			return fmt.Errorf("submit shortcut: %w", err)
		}
		if c.submitConfirmed(opCtx, turnsBefore) {
			return nil
		}
		select {
		case <-opCtx.Done():
			return opCtx.Err()
		case <-time.After(c.cfg.CompletionPollInterval):
		}
	}

	// Shortcut unconfirmed; click directly.
	if err := submit.Click(opCtx); err != nil {
		return fmt.Errorf("submit click fallback: %w", err)
	}
	if !c.submitConfirmed(opCtx, turnsBefore) {
		return fmt.Errorf("submission could not be confirmed after shortcut and click")
	}
	return nil
}

// submitConfirmed accepts any of: input cleared, submit disabled, or a new
// response container appeared.
func (c *Controller) submitConfirmed(ctx context.Context, turnsBefore int) bool {
	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.CompletionCheckTimeout)
	defer cancel()

	if v, err := c.page.Locator(selPromptInput).InputValue(checkCtx); err == nil && strings.TrimSpace(v) == "" {
		return true
	}
	if enabled, err := c.page.Locator(selSubmitButton).IsEnabled(checkCtx); err == nil && !enabled {
		return true
	}
	if n, err := c.page.Locator(selResponseTurn).Count(checkCtx); err == nil && n > turnsBefore {
		return true
	}
	return false
}
