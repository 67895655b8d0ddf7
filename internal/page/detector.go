package page

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// Confirmation records which path declared the turn complete.
type Confirmation int

const (
	// ConfirmedEdit means the edit affordance on the last turn became
	// visible: the strong signal.
	ConfirmedEdit Confirmation = iota + 1
	// ConfirmedHeuristic means the primary condition held for N consecutive
	// polls without the affordance appearing. The affordance's
	// hover-visibility is unreliable across UI states; the heuristic trades
	// a small false-completion risk for bounded latency.
	ConfirmedHeuristic
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmedEdit:
		return "edit_button"
	case ConfirmedHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// Detector decides when a turn has finished generating by polling page state.
// The primary condition is "input empty AND submit disabled"; confirmation
// comes from the edit affordance or, failing that, the consecutive-poll
// heuristic.
type Detector struct {
	ctrl *Controller
}

func NewDetector(ctrl *Controller) *Detector {
	return &Detector{ctrl: ctrl}
}

// Wait blocks until the turn completes, the overall timeout elapses, or ctx
// is cancelled. A model-error panel short-circuits both the heuristic and the
// timeout into an upstream error carrying the page's own text.
func (d *Detector) Wait(ctx context.Context, reqID string) (Confirmation, error) {
	cfg := d.ctrl.cfg
	deadline := time.Now().Add(cfg.CompletionTimeout)
	consecutive := 0
	editDeadline := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: while waiting for completion", models.ErrClientDisconnected)
		}
		if time.Now().After(deadline) {
			if text, found := d.ctrl.CheckModelError(ctx); found {
				return 0, fmt.Errorf("%w: %s", models.ErrUpstreamPageError, text)
			}
			d.ctrl.Snapshot(ctx, reqID, "completion_timeout")
			return 0, fmt.Errorf("%w: no completion within %s", models.ErrResponseTimeout, cfg.CompletionTimeout)
		}

		if d.primaryCondition(ctx) {
			consecutive++
			if editDeadline.IsZero() {
				editDeadline = time.Now().Add(cfg.EditButtonWait)
			}
			if time.Now().Before(editDeadline) && d.editAffordanceVisible(ctx) {
				return ConfirmedEdit, nil
			}
			if consecutive >= cfg.CompletionHeuristicHits {
				if text, found := d.ctrl.CheckModelError(ctx); found {
					return 0, fmt.Errorf("%w: %s", models.ErrUpstreamPageError, text)
				}
				return ConfirmedHeuristic, nil
			}
		} else {
			consecutive = 0
			editDeadline = time.Time{}
		}

		select {
		case <-ctx.Done():
		case <-time.After(cfg.CompletionPollInterval):
		}
	}
}

// primaryCondition checks "input empty AND submit disabled". Each read is
// individually time-bounded; a slow read counts as "condition not met"
// instead of erroring the whole wait.
func (d *Detector) primaryCondition(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, d.ctrl.cfg.CompletionCheckTimeout)
	defer cancel()

	value, err := d.ctrl.page.Locator(selPromptInput).InputValue(checkCtx)
	if err != nil || strings.TrimSpace(value) != "" {
		return false
	}
	enabled, err := d.ctrl.page.Locator(selSubmitButton).IsEnabled(checkCtx)
	if err != nil || enabled {
		return false
	}
	return true
}

// editAffordanceVisible hovers the last turn first since the affordance may
// be hover-gated, then checks visibility within the bounded check window.
func (d *Detector) editAffordanceVisible(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, d.ctrl.cfg.CompletionCheckTimeout)
	defer cancel()

	_ = d.ctrl.page.Locator(selLastTurn).Hover(checkCtx)
	visible, err := d.ctrl.page.Locator(selEditButton).IsVisible(checkCtx)
	return err == nil && visible
}
