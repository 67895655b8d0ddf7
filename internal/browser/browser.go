// Package browser defines the capability surface this system consumes from a
// browser-automation collaborator. The primitives mirror what every mainstream
// automation library exposes (locators, bounded waits, JS evaluation); the
// library itself is linked in as a driver, not reimplemented here.
package browser

import (
	"context"
	"time"
)

// Page is one browser tab. All methods honor ctx cancellation; the automation
// calls underneath are not interruptible mid-flight, so callers bound each
// operation with its own timeout.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL() string
	Locator(selector string) Locator
	// Evaluate runs a JS expression in the page and returns its JSON-decoded
	// result. arg is exposed to the script as the single argument.
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Keyboard() Keyboard
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Locator addresses zero or more elements by selector. Read methods target
// the first match.
type Locator interface {
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Hover(ctx context.Context) error
	InputValue(ctx context.Context) (string, error)
	GetAttribute(ctx context.Context, name string) (string, error)
	TextContent(ctx context.Context) (string, error)
	Count(ctx context.Context) (int, error)
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
	WaitEnabled(ctx context.Context, timeout time.Duration) error
	WaitHidden(ctx context.Context, timeout time.Duration) error
}

// Keyboard issues key events to the focused element.
type Keyboard interface {
	Press(ctx context.Context, keys string) error
	Down(ctx context.Context, key string) error
	Up(ctx context.Context, key string) error
}
