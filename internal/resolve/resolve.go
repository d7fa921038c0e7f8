// Package resolve implements the Resolution Engine (C5): given a parsed
// Action, it consults the Learning Store, then the Selector Strategy
// Generator's candidate list, then (optionally) the AI Locator Adapter,
// performing the action on the first candidate that both matches and
// succeeds, and records the outcome (spec §4.5).
package resolve

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/brightloop/formwright/internal/action"
	"github.com/brightloop/formwright/internal/browser"
	"github.com/brightloop/formwright/internal/learning"
	"github.com/brightloop/formwright/internal/strategy"
	"github.com/rs/zerolog"
)

// ErrorKind classifies every step-level failure into exactly one bucket
// (spec §7).
type ErrorKind string

const (
	KindParseError           ErrorKind = "ParseError"
	KindPlaceholderUnresolved ErrorKind = "PlaceholderUnresolved"
	KindNoDataAvailable      ErrorKind = "NoDataAvailable"
	KindElementNotFound      ErrorKind = "ElementNotFound"
	KindElementNotActionable ErrorKind = "ElementNotActionable"
	KindVerifyFailed         ErrorKind = "VerifyFailed"
	KindTimeout              ErrorKind = "Timeout"
	KindNavigationFailed     ErrorKind = "NavigationFailed"
	KindDriverError          ErrorKind = "DriverError"
	KindCancelled            ErrorKind = "Cancelled"
)

// StepError carries the classified failure plus forensic context.
type StepError struct {
	Kind            ErrorKind
	Detail          string
	CandidatesTried int
	ScreenshotPath  string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s (tried %d candidates)", e.Kind, e.Detail, e.CandidatesTried)
}

// Via names which resolution tier produced a successful selector.
type Via string

const (
	ViaLearned     Via = "Learned"
	ViaTraditional Via = "Traditional"
	ViaAI          Via = "AI"
)

// Result is the outcome of resolving and acting on one Action.
type Result struct {
	OK           bool
	SelectorUsed string
	Via          Via
	AIHit        bool
	Err          *StepError
}

// Locator suggests one candidate selector for (snapshot, target, kind),
// implemented by internal/ailocator. Kept as an interface here so resolve
// does not need to import ailocator's HTTP/provider machinery.
type Locator interface {
	Suggest(ctx context.Context, snapshot, target string, kind action.Kind) (selector string, ok bool)
}

// Config carries the timeouts §9's open question resolves to a single
// configurable value each.
type Config struct {
	CandidateTimeout time.Duration // per-candidate attempt timeout, spec ~2s
	ActionTimeout    time.Duration // per-action total budget, spec ~30s
	UseAI            bool
	ScreenshotDir    string
	SnapshotDepth    int // scales the context window Prune keeps around each match for the AI locator
}

func DefaultConfig() Config {
	return Config{
		CandidateTimeout: 2 * time.Second,
		ActionTimeout:    30 * time.Second,
		ScreenshotDir:    ".",
		SnapshotDepth:    4,
	}
}

// Engine is the Resolution Engine. One Engine is owned by one Session; it
// is not safe to share across Sessions because it wraps a single-Session
// Controller, though the Learning Store it writes through is itself
// safe for concurrent use.
type Engine struct {
	ctrl   browser.Controller
	store  *learning.Store
	ai     Locator
	cfg    Config
	logger zerolog.Logger
}

func New(ctrl browser.Controller, store *learning.Store, ai Locator, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{ctrl: ctrl, store: store, ai: ai, cfg: cfg, logger: logger}
}

// Resolve runs the full §4.5 algorithm for one Action.
func (e *Engine) Resolve(ctx context.Context, a action.Action) Result {
	if a.Kind == action.KindUnknown {
		return Result{Err: &StepError{Kind: KindParseError, Detail: fmt.Sprintf("could not parse line: %q", a.Raw)}}
	}
	if a.Kind == action.KindVerify {
		return e.resolveVerify(ctx, a)
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	key := action.Normalize(a.Target)
	tried := 0

	if learned, ok := e.store.Lookup(key); ok {
		tried++
		if err := e.attempt(actionCtx, learned.Selector, a); err == nil {
			_ = e.store.RecordSuccess(key, learned.Selector, a.Target, a.Kind)
			return Result{OK: true, SelectorUsed: learned.Selector, Via: ViaLearned}
		}
		// Learned selector stopped matching or the action failed on it;
		// fall through to regenerated candidates without forgetting it yet
		// (spec §4.5 step 2: "do NOT forget the entry yet").
	}

	candidates := strategy.Generate(a.Target, a.Kind, strategy.DefaultContext())
	for _, c := range candidates {
		if actionCtx.Err() != nil {
			return e.timeoutResult(actionCtx, tried)
		}
		sel := c.Lower()
		if !e.ctrl.WaitVisible(actionCtx, sel, e.cfg.CandidateTimeout) {
			continue
		}
		tried++
		if err := e.attempt(actionCtx, sel, a); err == nil {
			_ = e.store.RecordSuccess(key, sel, a.Target, a.Kind)
			return Result{OK: true, SelectorUsed: sel, Via: ViaTraditional}
		}
	}

	if e.cfg.UseAI && e.ai != nil {
		if sel, ok := e.trySuggestion(actionCtx, a); ok {
			tried++
			if e.ctrl.WaitVisible(actionCtx, sel, e.cfg.CandidateTimeout) {
				if err := e.attempt(actionCtx, sel, a); err == nil {
					_ = e.store.RecordSuccess(key, sel, a.Target, a.Kind)
					return Result{OK: true, SelectorUsed: sel, Via: ViaAI, AIHit: true}
				}
			}
		}
	}

	return e.failureResult(ctx, a, tried)
}

func (e *Engine) trySuggestion(ctx context.Context, a action.Action) (string, bool) {
	html, err := e.ctrl.Content(ctx)
	if err != nil {
		return "", false
	}
	snapshot := Prune(html, a.Target, e.cfg.SnapshotDepth)
	return e.ai.Suggest(ctx, snapshot, a.Target, a.Kind)
}

func (e *Engine) resolveVerify(ctx context.Context, a action.Action) Result {
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	if e.ctrl.VerifyTextPresent(actionCtx, a.Text, e.cfg.CandidateTimeout*4) {
		return Result{OK: true, Via: ViaTraditional}
	}
	return Result{Err: &StepError{Kind: KindVerifyFailed, Detail: fmt.Sprintf("text not visible: %q", a.Text)}}
}

// attempt dispatches to the browser Controller's per-kind sub-strategy
// ladder (spec §4.5 "attempt").
func (e *Engine) attempt(ctx context.Context, selector string, a action.Action) error {
	switch a.Kind {
	case action.KindClick:
		return e.ctrl.AttemptClick(ctx, selector, e.cfg.CandidateTimeout)
	case action.KindFill, action.KindFillTextarea:
		return e.ctrl.AttemptFill(ctx, selector, a.Value, e.cfg.CandidateTimeout)
	case action.KindSelect:
		handled, err := e.ctrl.AttemptSelectNative(ctx, selector, a.Value, e.cfg.CandidateTimeout)
		if handled {
			return err
		}
		if err := e.ctrl.OpenTrigger(ctx, selector, e.cfg.CandidateTimeout); err != nil {
			return err
		}
		opts := strategy.OptionCandidates(a.Value)
		lowered := make([]string, len(opts))
		for i, c := range opts {
			lowered[i] = c.Lower()
		}
		return e.ctrl.ClickOption(ctx, lowered, a.Value, e.cfg.CandidateTimeout)
	case action.KindCheck:
		return e.ctrl.AttemptCheck(ctx, selector, a.CheckState, e.cfg.CandidateTimeout)
	case action.KindUpload:
		return e.ctrl.AttemptUpload(ctx, selector, a.FilePath, e.cfg.CandidateTimeout)
	default:
		return fmt.Errorf("resolve: unsupported action kind %s", a.Kind)
	}
}

func (e *Engine) timeoutResult(ctx context.Context, tried int) Result {
	return Result{Err: &StepError{Kind: KindTimeout, Detail: ctx.Err().Error(), CandidatesTried: tried}}
}

// failureResult captures a debug screenshot (spec §7: "on ElementNotFound/
// ElementNotActionable, a PNG screenshot is written... absence of write
// permission degrades gracefully with a warning") and builds the terminal
// Failure result.
func (e *Engine) failureResult(ctx context.Context, a action.Action, tried int) Result {
	slug := slugify(a.Target)
	path := filepath.Join(e.cfg.ScreenshotDir, fmt.Sprintf("debug_not_found_%s.png", slug))
	if err := e.ctrl.Screenshot(ctx, path); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("could not write debug screenshot")
		path = ""
	}
	return Result{Err: &StepError{
		Kind:            KindElementNotFound,
		Detail:          fmt.Sprintf("no candidate resolved target %q for %s", a.Target, a.Kind),
		CandidatesTried: tried,
		ScreenshotPath:  path,
	}}
}

func slugify(s string) string {
	s = action.Normalize(s)
	if s == "" {
		return "target"
	}
	return s
}
