// Package browser owns the Playwright lifecycle and exposes the action
// sub-strategy ladder the Resolution Engine (C5) drives: a handful of
// fallback attempts per action kind, each with a short per-try timeout,
// so a single flaky interaction does not sink an otherwise-correct
// candidate selector (spec §4.5 "attempt").
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout = 30 * time.Second
)

// Controller exposes the browser actions the Resolution Engine needs. Each
// Attempt* method owns the full sub-strategy ladder for its action kind and
// returns a plain error; callers do not need to know which sub-strategy
// eventually succeeded.
type Controller interface {
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Page() playwright.Page
	Screenshot(ctx context.Context, path string) error
	Content(ctx context.Context) (string, error)

	// WaitVisible reports whether selector resolves to a visible element
	// within timeout; used by the resolution engine to decide whether a
	// candidate "matches" before running the action-specific ladder.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool

	AttemptClick(ctx context.Context, selector string, timeout time.Duration) error
	AttemptFill(ctx context.Context, selector, text string, timeout time.Duration) error
	AttemptSelectNative(ctx context.Context, selector, option string, timeout time.Duration) (bool, error)
	OpenTrigger(ctx context.Context, selector string, timeout time.Duration) error
	ClickOption(ctx context.Context, optionCandidates []string, value string, timeout time.Duration) error
	AttemptCheck(ctx context.Context, selector string, desired bool, timeout time.Duration) error
	AttemptUpload(ctx context.Context, selector, filePath string, timeout time.Duration) error
	VerifyTextPresent(ctx context.Context, text string, timeout time.Duration) bool
}

// Launcher owns the Playwright driver and browser process.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewLauncher starts one Chromium process. headless is fixed for the
// process's lifetime since Playwright treats it as a launch-time option,
// not a per-context one (see DESIGN.md's Open Question on this).
func NewLauncher(ctx context.Context, headless bool) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser}, nil
}

// NewController opens a fresh, isolated browser context and page. Every
// Session gets its own Controller; nothing is shared between them (spec
// §4.8 isolation: "Browser: each Session owns one exclusively").
func (l *Launcher) NewController(ctx context.Context) (Controller, error) {
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &controller{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type controller struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *controller) Page() playwright.Page { return c.page }

func (c *controller) Close(ctx context.Context) error {
	_ = ctx
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

func (c *controller) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *controller) Screenshot(ctx context.Context, path string) error {
	_ = ctx
	_, err := c.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	return wrap(err)
}

func (c *controller) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := c.page.Content()
	return html, wrap(err)
}

func (c *controller) WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	loc := c.page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

// AttemptClick runs the §4.5 click sub-strategy ladder: standard click,
// scripted element.click(), force-click bypassing actionability checks,
// then a synthesized mouse-event dispatch. Each sub-strategy gets its own
// short timeout slice; success short-circuits.
func (c *controller) AttemptClick(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.Locator(selector).First()
	slice := playwright.Float(float64(timeout.Milliseconds()))

	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		// best effort; continue regardless
	}

	if err := loc.Click(playwright.LocatorClickOptions{Timeout: slice}); err == nil {
		return nil
	}

	if _, err := loc.Evaluate("el => el.click()", nil); err == nil {
		return nil
	}

	if err := loc.Click(playwright.LocatorClickOptions{Force: playwright.Bool(true), Timeout: slice}); err == nil {
		return nil
	}

	_, err := loc.Evaluate(`el => {
		const rect = el.getBoundingClientRect();
		const x = rect.left + rect.width / 2;
		const y = rect.top + rect.height / 2;
		for (const type of ['mousedown', 'mouseup', 'click']) {
			el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, clientX: x, clientY: y}));
		}
	}`, nil)
	return wrap(err)
}

// AttemptFill runs the §4.5 fill sub-strategy ladder. If the element is
// disabled/readonly, those attributes are cleared via a scripted mutation
// first (required by some component frameworks that render a field
// disabled until a prior step completes).
func (c *controller) AttemptFill(ctx context.Context, selector, text string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.Locator(selector).First()
	slice := playwright.Float(float64(timeout.Milliseconds()))

	_, _ = loc.Evaluate(`el => { el.removeAttribute('disabled'); el.removeAttribute('readonly'); }`, nil)

	if err := loc.Fill(text, playwright.LocatorFillOptions{Timeout: slice}); err == nil {
		if val, verr := loc.InputValue(); verr == nil && val == text {
			return nil
		}
	}

	if err := loc.Focus(); err == nil {
		_ = loc.SelectText()
		_ = c.page.Keyboard().Press("Backspace")
		if err := loc.Type(text, playwright.LocatorTypeOptions{Timeout: slice}); err == nil {
			if val, verr := loc.InputValue(); verr == nil && val == text {
				return nil
			}
		}
	}

	_, err := loc.Evaluate(`(el, value) => {
		const proto = Object.getPrototypeOf(el);
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) { desc.set.call(el, value); } else { el.value = value; }
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		el.dispatchEvent(new Event('blur', {bubbles: true}));
		el.dispatchEvent(new CustomEvent('valuechange', {bubbles: true, detail: {value}}));
	}`, text)
	if err != nil {
		return wrap(err)
	}
	val, verr := loc.InputValue()
	if verr == nil && val == text {
		return nil
	}
	return fmt.Errorf("fill: value mismatch after all sub-strategies (selector=%s)", selector)
}

// AttemptSelectNative applies the native <select> value-set shortcut
// (spec §4.5: "Native select elements take a value-set shortcut"). The
// bool return reports whether selector resolved to a <select> element at
// all; false means the caller should fall back to the open/click-option
// flow for custom comboboxes.
func (c *controller) AttemptSelectNative(ctx context.Context, selector, option string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc := c.page.Locator(selector).First()
	tag, err := loc.Evaluate("el => el.tagName", nil)
	if err != nil {
		return false, nil
	}
	if s, ok := tag.(string); !ok || !strings.EqualFold(s, "select") {
		return false, nil
	}
	_, err = loc.SelectOption(playwright.SelectOptionValues{
		Labels: &[]string{option},
	}, playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(float64(timeout.Milliseconds()))})
	return true, wrap(err)
}

// OpenTrigger clicks a combobox/dropdown trigger element to reveal its
// option list (spec §4.2.3, step one of Select resolution).
func (c *controller) OpenTrigger(ctx context.Context, selector string, timeout time.Duration) error {
	return c.AttemptClick(ctx, selector, timeout)
}

// ClickOption waits for an option list to appear then clicks the option
// matching value, trying the option candidate list in order.
func (c *controller) ClickOption(ctx context.Context, optionCandidates []string, value string, timeout time.Duration) error {
	for _, sel := range optionCandidates {
		if c.WaitVisible(ctx, sel, timeout) {
			if err := c.AttemptClick(ctx, sel, timeout); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("select: option %q not found among %d candidates", value, len(optionCandidates))
}

// AttemptCheck evaluates current checked state and only clicks when it
// differs from desired; for custom switches it synthesizes a click on the
// associated label.
func (c *controller) AttemptCheck(ctx context.Context, selector string, desired bool, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.Locator(selector).First()
	checked, err := loc.IsChecked()
	if err == nil {
		if checked == desired {
			return nil
		}
		return c.AttemptClick(ctx, selector, timeout)
	}

	// Not a native checkbox; synthesize a click on the associated <label>.
	_, err = loc.Evaluate(`el => {
		const label = el.closest('label') || document.querySelector('label[for="' + el.id + '"]');
		if (label) label.click(); else el.click();
	}`, nil)
	return wrap(err)
}

// AttemptUpload implements the two-phase upload strategy (spec §4.2.4):
// phase A intercepts the native file chooser opened by a visible
// "Upload"-labelled button; phase B sets the file directly on an
// input[type=file] if phase A's button is absent.
func (c *controller) AttemptUpload(ctx context.Context, selector, filePath string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.WaitVisible(ctx, selector, timeout) {
		tag, _ := c.page.Locator(selector).First().Evaluate("el => el.tagName", nil)
		if s, ok := tag.(string); ok && strings.EqualFold(s, "input") {
			if err := c.page.Locator(selector).First().SetInputFiles(filePath); err == nil {
				return nil
			}
		}
	}

	chooser, err := c.page.ExpectFileChooser(func() error {
		return c.AttemptClick(ctx, selector, timeout)
	})
	if err == nil {
		return wrap(chooser.SetFiles(filePath))
	}

	// Phase B: fall back to the first file input on the page, if any.
	input := c.page.Locator("input[type=file]").First()
	return wrap(input.SetInputFiles(filePath))
}

// VerifyTextPresent checks for normalized text presence, retrying within a
// short bounded window (spec §4.5 Verify). It never clicks or scrolls.
func (c *controller) VerifyTextPresent(ctx context.Context, text string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return false
		}
		loc := c.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(false)})
		if count, err := loc.Count(); err == nil && count > 0 {
			if visible, err := loc.First().IsVisible(); err == nil && visible {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
