package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakePage is an in-memory Page used by tests and by the "fake" driver in
// development mode. Elements are keyed by selector; scripts the controller
// evaluates are recognized by substring.
type FakePage struct {
	mu           sync.Mutex
	url          string
	elements     map[string]*FakeElement
	LocalStorage map[string]string
	Clipboard    string
	UserAgent    string
	HTML         string
	keyboard     *FakeKeyboard

	// EvaluateFunc, when set, overrides the built-in script handling.
	EvaluateFunc func(script string, arg any) (any, error)
	// OnGoto observes navigations.
	OnGoto func(url string)
}

// FakeElement models one addressable element.
type FakeElement struct {
	Visible bool
	Enabled bool
	Value   string
	Text    string
	Attrs   map[string]string
	N       int

	OnClick func(p *FakePage)
	OnHover func(p *FakePage)
	OnFill  func(p *FakePage, value string)
}

type FakeKeyboard struct {
	mu      sync.Mutex
	Pressed []string
	OnPress func(keys string)
}

func NewFakePage() *FakePage {
	return &FakePage{
		elements:     make(map[string]*FakeElement),
		LocalStorage: make(map[string]string),
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64)",
		keyboard:     &FakeKeyboard{},
	}
}

// SetElement installs or replaces an element. Count defaults to 1.
func (p *FakePage) SetElement(selector string, el *FakeElement) *FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el.N == 0 {
		el.N = 1
	}
	if el.Attrs == nil {
		el.Attrs = make(map[string]string)
	}
	p.elements[selector] = el
	return el
}

// Element returns the element for a selector, or nil.
func (p *FakePage) Element(selector string) *FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[selector]
}

func (p *FakePage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	cb := p.OnGoto
	p.mu.Unlock()
	if cb != nil {
		cb(url)
	}
	return nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Locator(selector string) Locator {
	return &fakeLocator{page: p, selector: selector}
}

func (p *FakePage) Keyboard() Keyboard { return p.keyboard }

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("PNG"), ctx.Err()
}

func (p *FakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, ctx.Err()
}

func (p *FakePage) Close(ctx context.Context) error { return nil }

// Evaluate recognizes the script fragments the controller uses: localStorage
// access, clipboard reads, user-agent sniffing, and querySelector value
// assignment with event dispatch.
func (p *FakePage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	override := p.EvaluateFunc
	p.mu.Unlock()
	if override != nil {
		return override(script, arg)
	}

	switch {
	case strings.Contains(script, "localStorage.getItem"):
		key, _ := arg.(string)
		p.mu.Lock()
		defer p.mu.Unlock()
		if v, ok := p.LocalStorage[key]; ok {
			return v, nil
		}
		return nil, nil
	case strings.Contains(script, "localStorage.setItem"):
		kv, ok := arg.([]string)
		if !ok || len(kv) != 2 {
			return nil, fmt.Errorf("fake: setItem expects [key, value]")
		}
		p.mu.Lock()
		p.LocalStorage[kv[0]] = kv[1]
		p.mu.Unlock()
		return nil, nil
	case strings.Contains(script, "navigator.clipboard.readText"):
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.Clipboard, nil
	case strings.Contains(script, "navigator.userAgent"):
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.UserAgent, nil
	case strings.Contains(script, "dispatchEvent"):
		selector := quotedSelector(script)
		value, _ := arg.(string)
		p.mu.Lock()
		el := p.elements[selector]
		p.mu.Unlock()
		if el == nil {
			return nil, fmt.Errorf("fake: no element %q", selector)
		}
		p.mu.Lock()
		el.Value = value
		p.mu.Unlock()
		return nil, nil
	}
	return nil, fmt.Errorf("fake: unrecognized script %q", script)
}

// quotedSelector pulls the first querySelector argument out of a script.
func quotedSelector(script string) string {
	i := strings.Index(script, "querySelector(")
	if i < 0 {
		return ""
	}
	rest := script[i+len("querySelector("):]
	if len(rest) == 0 {
		return ""
	}
	quote := rest[0]
	if quote != '\'' && quote != '"' {
		return ""
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return ""
	}
	return rest[1 : 1+end]
}

func (k *FakeKeyboard) Press(ctx context.Context, keys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	k.Pressed = append(k.Pressed, keys)
	cb := k.OnPress
	k.mu.Unlock()
	if cb != nil {
		cb(keys)
	}
	return nil
}

func (k *FakeKeyboard) Down(ctx context.Context, key string) error { return ctx.Err() }
func (k *FakeKeyboard) Up(ctx context.Context, key string) error   { return ctx.Err() }

type fakeLocator struct {
	page     *FakePage
	selector string
}

func (l *fakeLocator) get() *FakeElement { return l.page.Element(l.selector) }

func (l *fakeLocator) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el := l.get()
	if el == nil || !el.Visible {
		return fmt.Errorf("fake: element %q not clickable", l.selector)
	}
	if el.OnClick != nil {
		el.OnClick(l.page)
	}
	return nil
}

func (l *fakeLocator) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el := l.get()
	if el == nil {
		return fmt.Errorf("fake: element %q not found", l.selector)
	}
	l.page.mu.Lock()
	el.Value = value
	l.page.mu.Unlock()
	if el.OnFill != nil {
		el.OnFill(l.page, value)
	}
	return nil
}

func (l *fakeLocator) Hover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el := l.get()
	if el == nil {
		return fmt.Errorf("fake: element %q not found", l.selector)
	}
	if el.OnHover != nil {
		el.OnHover(l.page)
	}
	return nil
}

func (l *fakeLocator) InputValue(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	el := l.get()
	if el == nil {
		return "", fmt.Errorf("fake: element %q not found", l.selector)
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Value, nil
}

func (l *fakeLocator) GetAttribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	el := l.get()
	if el == nil {
		return "", fmt.Errorf("fake: element %q not found", l.selector)
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Attrs[name], nil
}

func (l *fakeLocator) TextContent(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	el := l.get()
	if el == nil {
		return "", fmt.Errorf("fake: element %q not found", l.selector)
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Text, nil
}

func (l *fakeLocator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	el := l.get()
	if el == nil {
		return 0, nil
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.N, nil
}

func (l *fakeLocator) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	el := l.get()
	if el == nil {
		return false, nil
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Visible, nil
}

func (l *fakeLocator) IsEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	el := l.get()
	if el == nil {
		return false, nil
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Enabled, nil
}

func (l *fakeLocator) waitFor(ctx context.Context, timeout time.Duration, cond func(*FakeElement) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		el := l.get()
		if el != nil && cond(el) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fake: timeout waiting on %q", l.selector)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (l *fakeLocator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	return l.waitFor(ctx, timeout, func(el *FakeElement) bool {
		l.page.mu.Lock()
		defer l.page.mu.Unlock()
		return el.Visible
	})
}

func (l *fakeLocator) WaitEnabled(ctx context.Context, timeout time.Duration) error {
	return l.waitFor(ctx, timeout, func(el *FakeElement) bool {
		l.page.mu.Lock()
		defer l.page.mu.Unlock()
		return el.Enabled
	})
}

func (l *fakeLocator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		el := l.get()
		if el == nil {
			return nil
		}
		l.page.mu.Lock()
		visible := el.Visible
		l.page.mu.Unlock()
		if !visible {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fake: timeout waiting for %q to hide", l.selector)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeDriver struct{}

func (fakeDriver) Connect(ctx context.Context, addr string) (Page, error) {
	return NewFakePage(), nil
}

func init() {
	Register("fake", fakeDriver{})
}
