package page

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ScrapeResponse reads the finished turn's text out of the DOM. The edit
// strategy is tried first; the copy strategy runs whenever the edit path
// fails or comes back empty. Only when both fail is the content unavailable.
func (c *Controller) ScrapeResponse(ctx context.Context, reqID string) (string, error) {
	text, editErr := c.scrapeViaEditButton(ctx)
	if editErr == nil && text != "" {
		return text, nil
	}
	if editErr != nil {
		slog.Warn("Edit-button scrape failed, trying copy button", "req_id", reqID, "error", editErr)
	}

	text, copyErr := c.scrapeViaCopyButton(ctx)
	if copyErr == nil && text != "" {
		return text, nil
	}
	return "", fmt.Errorf("response content unavailable: edit strategy (%v), copy strategy (%v)", editErr, copyErr)
}

// scrapeViaEditButton opens the last turn for editing and reads the textarea.
// The data-value attribute is preferred; the live input value is the
// fallback. Editing is closed again regardless of outcome.
func (c *Controller) scrapeViaEditButton(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	if err := c.page.Locator(selLastTurn).Hover(opCtx); err != nil {
		return "", fmt.Errorf("hover last turn: %w", err)
	}
	edit := c.page.Locator(selEditButton)
	if err := edit.WaitVisible(opCtx, c.cfg.PageOpTimeout); err != nil {
		return "", fmt.Errorf("edit button: %w", err)
	}
	if err := edit.Click(opCtx); err != nil {
		return "", fmt.Errorf("click edit: %w", err)
	}
	defer func() {
		stop := c.page.Locator(selStopEditButton)
		if visible, _ := stop.IsVisible(opCtx); visible {
			_ = stop.Click(opCtx)
		}
	}()

	area := c.page.Locator(selEditTextarea)
	if err := area.WaitVisible(opCtx, c.cfg.PageOpTimeout); err != nil {
		return "", fmt.Errorf("edit textarea: %w", err)
	}
	if v, err := area.GetAttribute(opCtx, "data-value"); err == nil && v != "" {
		return v, nil
	}
	v, err := area.InputValue(opCtx)
	if err != nil {
		return "", fmt.Errorf("read edit textarea: %w", err)
	}
	return v, nil
}

// scrapeViaCopyButton drives the overflow menu's "copy as markdown" and reads
// the system clipboard. Requires clipboard-read permission in the automated
// browser context.
func (c *Controller) scrapeViaCopyButton(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	if err := c.page.Locator(selLastTurn).Hover(opCtx); err != nil {
		return "", fmt.Errorf("hover last turn: %w", err)
	}
	more := c.page.Locator(selMoreOptions)
	if err := more.WaitVisible(opCtx, c.cfg.PageOpTimeout); err != nil {
		return "", fmt.Errorf("options menu: %w", err)
	}
	if err := more.Click(opCtx); err != nil {
		return "", fmt.Errorf("open options menu: %w", err)
	}
	copyBtn := c.page.Locator(selCopyMarkdown)
	if err := copyBtn.WaitVisible(opCtx, c.cfg.PageOpTimeout); err != nil {
		return "", fmt.Errorf("copy markdown item: %w", err)
	}
	if err := copyBtn.Click(opCtx); err != nil {
		return "", fmt.Errorf("click copy markdown: %w", err)
	}

	v, err := c.page.Evaluate(opCtx, scriptReadClipboard, nil)
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	s, _ := v.(string)
	return strings.TrimSpace(s), nil
}
