package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightloop/formwright/internal/browser"
	"github.com/brightloop/formwright/internal/dataset"
	"github.com/brightloop/formwright/internal/events"
	"github.com/brightloop/formwright/internal/learning"
	"github.com/brightloop/formwright/internal/resolve"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

type fakeController struct {
	clickable map[string]bool
	navigated string
}

func (f *fakeController) Close(ctx context.Context) error                { return nil }
func (f *fakeController) Navigate(ctx context.Context, url string) error { f.navigated = url; return nil }
func (f *fakeController) Page() playwright.Page                          { return nil }
func (f *fakeController) Screenshot(ctx context.Context, path string) error {
	return nil
}
func (f *fakeController) Content(ctx context.Context) (string, error) { return "<html></html>", nil }
func (f *fakeController) WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	return f.clickable[selector]
}
func (f *fakeController) AttemptClick(ctx context.Context, selector string, timeout time.Duration) error {
	if f.clickable[selector] {
		return nil
	}
	return &resolve.StepError{Kind: resolve.KindElementNotActionable}
}
func (f *fakeController) AttemptFill(ctx context.Context, selector, text string, timeout time.Duration) error {
	if f.clickable[selector] {
		return nil
	}
	return &resolve.StepError{Kind: resolve.KindElementNotActionable}
}
func (f *fakeController) AttemptSelectNative(ctx context.Context, selector, option string, timeout time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeController) OpenTrigger(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (f *fakeController) ClickOption(ctx context.Context, optionCandidates []string, value string, timeout time.Duration) error {
	return nil
}
func (f *fakeController) AttemptCheck(ctx context.Context, selector string, desired bool, timeout time.Duration) error {
	return nil
}
func (f *fakeController) AttemptUpload(ctx context.Context, selector, filePath string, timeout time.Duration) error {
	return nil
}
func (f *fakeController) VerifyTextPresent(ctx context.Context, text string, timeout time.Duration) bool {
	return false
}

type fakeLauncher struct{ ctrl *fakeController }

func (l *fakeLauncher) NewController(ctx context.Context) (browser.Controller, error) {
	return l.ctrl, nil
}

func testConfig(dir string) resolve.Config {
	cfg := resolve.DefaultConfig()
	cfg.CandidateTimeout = 20 * time.Millisecond
	cfg.ActionTimeout = time.Second
	cfg.ScreenshotDir = dir
	return cfg
}

func TestSessionRunsStepsAndStopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := learning.New(filepath.Join(dir, "learning.json"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus()
	sub, unsub := bus.Subscribe(64)
	defer unsub()

	ctrl := &fakeController{clickable: map[string]bool{
		"button:has-text('Recently Viewed')": true,
	}}
	launcher := &fakeLauncher{ctrl: ctrl}
	sess := New(launcher, store, nil, bus, nil, testConfig(dir), zerolog.Nop())

	out := sess.Run(context.Background(), Request{
		SessionID: "s1",
		URL:       "https://example.test/app",
		Steps: []string{
			`Click "Recently Viewed"`,
			`Click "Some Missing Button"`,
			`Click "Recently Viewed"`,
		},
	})

	if out.OK {
		t.Fatalf("expected overall failure due to missing second target")
	}
	if out.Metrics.StepsSucceeded != 1 || out.Metrics.StepsFailed != 1 {
		t.Fatalf("expected 1 success + 1 failure before stopping, got %+v", out.Metrics)
	}
	if ctrl.navigated != "https://example.test/app" {
		t.Fatalf("expected navigation to request URL, got %q", ctrl.navigated)
	}

	var sawSessionEnd bool
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeSessionEnd {
				sawSessionEnd = true
			}
		default:
			goto done
		}
	}
done:
	if !sawSessionEnd {
		t.Fatalf("expected a SessionEnd event to have been published")
	}
}

func TestSessionNoDataAvailableAbortsBeforeSteps(t *testing.T) {
	dir := t.TempDir()
	store, err := learning.New(filepath.Join(dir, "learning.json"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dataset.Load(filepath.Join(dir, "does-not-exist.csv"))
	if err != nil {
		t.Fatal(err)
	}
	ctrl := &fakeController{clickable: map[string]bool{}}
	launcher := &fakeLauncher{ctrl: ctrl}
	sess := New(launcher, store, ds, events.NewBus(), nil, testConfig(dir), zerolog.Nop())

	out := sess.Run(context.Background(), Request{
		SessionID: "s2",
		URL:       "https://example.test/app",
		Steps:     []string{`Type "%Username%" into "Username"`},
	})

	if out.OK {
		t.Fatalf("expected failure: no dataset loaded")
	}
	if out.Metrics.StepCount != 0 {
		t.Fatalf("expected no steps attempted, got %d", out.Metrics.StepCount)
	}
}

func TestSessionWaitStepSleeps(t *testing.T) {
	dir := t.TempDir()
	store, err := learning.New(filepath.Join(dir, "learning.json"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctrl := &fakeController{clickable: map[string]bool{}}
	launcher := &fakeLauncher{ctrl: ctrl}
	sess := New(launcher, store, nil, events.NewBus(), nil, testConfig(dir), zerolog.Nop())

	start := time.Now()
	out := sess.Run(context.Background(), Request{
		SessionID: "s3",
		URL:       "https://example.test/app",
		Steps:     []string{"Wait for 0.05 seconds"},
	})
	if !out.OK {
		t.Fatalf("expected wait-only session to succeed, got %+v", out.Err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("expected Run to actually sleep for the wait duration")
	}
}
