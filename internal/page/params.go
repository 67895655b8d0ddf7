package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// ClampTemperature bounds temperature to the page-legal [0, 2] range.
func ClampTemperature(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

// ClampTopP bounds top_p to [0, 1].
func ClampTopP(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampMaxOutputTokens bounds the token limit to [1, cap], with 65536 as the
// fallback cap when the model entry does not declare one.
func ClampMaxOutputTokens(v, cap int) int {
	if cap <= 0 {
		cap = 65536
	}
	if v < 1 {
		return 1
	}
	if v > cap {
		return cap
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetParameters reconciles the page's generation controls with the effective
// request values. Cache hits skip the page entirely; verification failures
// degrade to whatever value is live on the page rather than failing the turn.
func (c *Controller) SetParameters(ctx context.Context, reqID string, req *models.ChatCompletionRequest, entry *models.ModelEntry) error {
	c.cache.EnsureValid(c.reg.Current(), c.defaultsHash)

	temperature := c.cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	topP := c.cfg.DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}
	tokenCap := 0
	maxTokens := c.cfg.DefaultMaxOutputTokens
	if entry != nil {
		tokenCap = entry.SupportedMaxOutputTokens
		if entry.DefaultMaxOutputTokens > 0 {
			maxTokens = entry.DefaultMaxOutputTokens
		}
	}
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}
	stops := models.NormalizeStop(req.Stop)
	if len(stops) == 0 {
		stops = models.NormalizeStop(models.StringOrSlice(c.cfg.DefaultStop))
	}

	opened := false
	ensureOpen := func() error {
		if opened {
			return nil
		}
		if err := c.ensureAdvancedOpen(ctx); err != nil {
			return err
		}
		opened = true
		return nil
	}

	if err := c.writeNumericParam(ctx, reqID, paramTemperature, selTemperatureInput,
		formatFloat(ClampTemperature(temperature)), ensureOpen); err != nil {
		return err
	}
	if err := c.writeNumericParam(ctx, reqID, paramMaxOutputTokens, selMaxTokensInput,
		strconv.Itoa(ClampMaxOutputTokens(maxTokens, tokenCap)), ensureOpen); err != nil {
		return err
	}
	if err := c.writeNumericParam(ctx, reqID, paramTopP, selTopPInput,
		formatFloat(ClampTopP(topP)), ensureOpen); err != nil {
		return err
	}
	return c.writeStopSequences(ctx, reqID, stops, ensureOpen)
}

// writeNumericParam is the cache-gated write path shared by the three numeric
// controls: cache hit → no-op; live value already right → refresh cache;
// otherwise write, re-read, and on mismatch evict + snapshot but keep going.
func (c *Controller) writeNumericParam(ctx context.Context, reqID, key, selector, want string, ensureOpen func() error) error {
	if cached, ok := c.cache.Get(key); ok && cached == want {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ensureOpen(); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.PageOpTimeout)
	defer cancel()

	input := c.page.Locator(selector)
	live, err := input.InputValue(opCtx)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if numericEqual(live, want) {
		c.cache.Set(key, want)
		return nil
	}
	if err := input.Fill(opCtx, want); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	verify, err := input.InputValue(opCtx)
	if err != nil || !numericEqual(verify, want) {
		c.cache.Evict(key)
		c.Snapshot(ctx, reqID, "param_verify_"+key)
		slog.Warn("Parameter verification failed, continuing with live value",
			"req_id", reqID, "param", key, "wanted", want, "live", verify, "error", err)
		return nil
	}
	c.cache.Set(key, want)
	return nil
}

// numericEqual compares control values numerically so "1.0" matches "1".
func numericEqual(a, b string) bool {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return fa == fb
}

// writeStopSequences clears the existing chip entries before adding the new
// set. Removal is bounded at initial_count + 5 clicks so a chip that refuses
// to disappear cannot loop forever.
func (c *Controller) writeStopSequences(ctx context.Context, reqID string, stops []string, ensureOpen func() error) error {
	key := paramStopSequences
	want := strings.Join(stops, "\n")
	if cached, ok := c.cache.Get(key); ok && cached == want {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ensureOpen(); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	chips := c.page.Locator(selStopSeqChip)
	initial, err := chips.Count(opCtx)
	if err != nil {
		return fmt.Errorf("count stop chips: %w", err)
	}
	remove := c.page.Locator(selStopChipRemove)
	for removals := 0; removals < initial+5; removals++ {
		n, err := chips.Count(opCtx)
		if err != nil || n == 0 {
			break
		}
		if err := remove.Click(opCtx); err != nil {
			break
		}
	}

	input := c.page.Locator(selStopSeqInput)
	for _, s := range stops {
		if err := input.Fill(opCtx, s); err != nil {
			c.cache.Evict(key)
			return fmt.Errorf("write stop sequence: %w", err)
		}
		if err := c.page.Keyboard().Press(opCtx, "Enter"); err != nil {
			c.cache.Evict(key)
			return fmt.Errorf("commit stop sequence: %w", err)
		}
	}

	if n, err := chips.Count(opCtx); err != nil || n != len(stops) {
		c.cache.Evict(key)
		c.Snapshot(ctx, reqID, "param_verify_"+key)
		slog.Warn("Stop-sequence verification failed, continuing with live value",
			"req_id", reqID, "wanted", len(stops), "live", n, "error", err)
		return nil
	}
	c.cache.Set(key, want)
	return nil
}

// ensureAdvancedOpen forces the isAdvancedOpen preference gate true; some
// parameter controls do not render at all while it is false.
func (c *Controller) ensureAdvancedOpen(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.PageOpTimeout)
	defer cancel()

	raw, err := c.readStorage(opCtx, prefsStorageKey)
	if err != nil {
		return fmt.Errorf("read preferences: %w", err)
	}
	prefs := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
			prefs = map[string]any{}
		}
	}
	if open, _ := prefs["isAdvancedOpen"].(bool); !open {
		prefs["isAdvancedOpen"] = true
		blob, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		if err := c.writeStorage(opCtx, prefsStorageKey, string(blob)); err != nil {
			return fmt.Errorf("write preferences: %w", err)
		}
		toggle := c.page.Locator(selAdvancedToggle)
		if visible, _ := toggle.IsVisible(opCtx); visible {
			_ = toggle.Click(opCtx)
		}
	}
	return nil
}
