package resolve

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightloop/formwright/internal/action"
	"github.com/brightloop/formwright/internal/learning"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// fakeController implements browser.Controller entirely in memory so the
// resolution algorithm can be exercised without a real browser process.
type fakeController struct {
	visible   map[string]bool
	clickable map[string]bool
	clicks    []string
	screenshots int
}

func newFakeController() *fakeController {
	return &fakeController{visible: map[string]bool{}, clickable: map[string]bool{}}
}

func (f *fakeController) Close(ctx context.Context) error               { return nil }
func (f *fakeController) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeController) Page() playwright.Page                         { return nil }
func (f *fakeController) Screenshot(ctx context.Context, path string) error {
	f.screenshots++
	return nil
}
func (f *fakeController) Content(ctx context.Context) (string, error) {
	return "<html><body>no match here</body></html>", nil
}
func (f *fakeController) WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	return f.visible[selector]
}
func (f *fakeController) AttemptClick(ctx context.Context, selector string, timeout time.Duration) error {
	f.clicks = append(f.clicks, selector)
	if f.clickable[selector] {
		return nil
	}
	return errNotClickable
}
func (f *fakeController) AttemptFill(ctx context.Context, selector, text string, timeout time.Duration) error {
	if f.clickable[selector] {
		return nil
	}
	return errNotClickable
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

var errNotClickable = &StepError{Kind: KindElementNotActionable, Detail: "fake: not clickable"}

func newTestEngine(t *testing.T, ctrl *fakeController) (*Engine, *learning.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := learning.New(filepath.Join(dir, "learning.json"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.CandidateTimeout = 50 * time.Millisecond
	cfg.ActionTimeout = time.Second
	cfg.ScreenshotDir = dir
	return New(ctrl, store, nil, cfg, zerolog.Nop()), store
}

func TestResolveFallsThroughToCandidatesAndLearns(t *testing.T) {
	ctrl := newFakeController()
	ctrl.visible["button:has-text('Recently Viewed')"] = true
	ctrl.clickable["button:has-text('Recently Viewed')"] = true
	eng, store := newTestEngine(t, ctrl)

	a := action.Action{Kind: action.KindClick, Target: "Recently Viewed"}
	res := eng.Resolve(context.Background(), a)
	if !res.OK {
		t.Fatalf("expected success, got %+v", res.Err)
	}
	if res.Via != ViaTraditional {
		t.Fatalf("expected via=Traditional, got %s", res.Via)
	}

	entry, ok := store.Lookup(action.Normalize("Recently Viewed"))
	if !ok || entry.Selector != res.SelectorUsed {
		t.Fatalf("expected learning store to record %q, got %+v ok=%v", res.SelectorUsed, entry, ok)
	}
}

func TestResolveUsesLearnedSelectorFirst(t *testing.T) {
	ctrl := newFakeController()
	const learnedSel = "#some-prior-selector"
	ctrl.visible[learnedSel] = true
	ctrl.clickable[learnedSel] = true
	eng, store := newTestEngine(t, ctrl)

	key := action.Normalize("Recently Viewed")
	if err := store.RecordSuccess(key, learnedSel, "Recently Viewed", action.KindClick); err != nil {
		t.Fatal(err)
	}

	res := eng.Resolve(context.Background(), action.Action{Kind: action.KindClick, Target: "Recently Viewed"})
	if !res.OK || res.Via != ViaLearned || res.SelectorUsed != learnedSel {
		t.Fatalf("expected learned hit, got %+v", res)
	}
	if len(ctrl.clicks) != 1 {
		t.Fatalf("expected exactly one click attempt (the learned selector), got %v", ctrl.clicks)
	}
}

func TestResolveFailureCapturesScreenshot(t *testing.T) {
	ctrl := newFakeController() // nothing visible, nothing clickable
	eng, _ := newTestEngine(t, ctrl)

	res := eng.Resolve(context.Background(), action.Action{Kind: action.KindClick, Target: "Nonexistent Target"})
	if res.OK {
		t.Fatalf("expected failure")
	}
	if res.Err.Kind != KindElementNotFound {
		t.Fatalf("expected ElementNotFound, got %s", res.Err.Kind)
	}
	if ctrl.screenshots != 1 {
		t.Fatalf("expected exactly one screenshot attempt, got %d", ctrl.screenshots)
	}
}

func TestResolveUnknownIsParseError(t *testing.T) {
	ctrl := newFakeController()
	eng, _ := newTestEngine(t, ctrl)
	res := eng.Resolve(context.Background(), action.Unknown("garbled line"))
	if res.OK || res.Err.Kind != KindParseError {
		t.Fatalf("expected ParseError, got %+v", res)
	}
}
