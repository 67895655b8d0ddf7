package page

// Selectors for the Studio UI. Centralized so a UI refresh is a one-file fix.
const (
	selPromptInput    = "ms-prompt-input-wrapper textarea"
	selSubmitButton   = "button[aria-label='Run']"
	selLastTurn       = "ms-chat-turn:last-of-type"
	selEditButton     = "ms-chat-turn:last-of-type button[aria-label='Edit']"
	selEditTextarea   = "ms-chat-turn:last-of-type textarea"
	selStopEditButton = "ms-chat-turn:last-of-type button[aria-label='Stop editing']"
	selMoreOptions    = "ms-chat-turn:last-of-type button[aria-label='Open options']"
	selCopyMarkdown   = "button[aria-label='Copy markdown']"
	selResponseTurn   = "ms-chat-turn[data-turn-role='Model']"

	selModelName    = "ms-model-selector .model-option-content"
	selErrorPanel   = "ms-chat-turn:last-of-type .model-error"
	selErrorToast   = ".toast-error, ms-toast .error"
	selClearChat    = "button[aria-label='Clear chat']"
	selClearConfirm = "ms-dialog button[aria-label='Confirm clear']"

	selAdvancedToggle   = "button[aria-label='Advanced settings']"
	selTemperatureInput = "ms-prompt-run-settings input[aria-label='Temperature']"
	selMaxTokensInput   = "ms-prompt-run-settings input[aria-label='Maximum output tokens']"
	selTopPInput        = "ms-prompt-run-settings input[aria-label='Top P']"
	selStopSeqInput     = "ms-prompt-run-settings input[aria-label='Add stop token']"
	selStopSeqChip      = "ms-prompt-run-settings mat-chip-row"
	selStopChipRemove   = "ms-prompt-run-settings mat-chip-row button[aria-label='Remove']"
)

// localStorage key holding the client-side preference blob. promptModel and
// isAdvancedOpen live inside it.
const prefsStorageKey = "aiStudioUserPreference"

const (
	scriptGetStorage    = "(k) => localStorage.getItem(k)"
	scriptSetStorage    = "([k, v]) => localStorage.setItem(k, v)"
	scriptReadClipboard = "() => navigator.clipboard.readText()"
	scriptUserAgent     = "() => navigator.userAgent"
)

// scriptSetInput assigns the prompt input value through the native setter and
// dispatches input/change so the framework notices. Direct assignment skips
// the per-character typing path entirely.
const scriptSetInput = `(value) => {
  const el = document.querySelector('` + selPromptInput + `');
  const setter = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value').set;
  setter.call(el, value);
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
}`
