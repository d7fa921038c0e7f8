// Package session implements the Session Executor (C7): the owner of one
// browser context and one step list, driving each parsed Action through the
// Resolution Engine to completion or first failure, with guaranteed browser
// cleanup on every exit path (spec §4.7).
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/brightloop/formwright/internal/action"
	"github.com/brightloop/formwright/internal/browser"
	"github.com/brightloop/formwright/internal/dataset"
	"github.com/brightloop/formwright/internal/events"
	"github.com/brightloop/formwright/internal/learning"
	"github.com/brightloop/formwright/internal/resolve"
	"github.com/rs/zerolog"
)

// Policy governs what a Session does after a step fails.
type Policy string

const (
	PolicyStopOnFirstFailure Policy = "stop_on_first_failure"
	PolicyContinue           Policy = "continue"
)

// Preference selects which dataset rows a Session may consume.
type Preference = dataset.Preference

// Launcher opens a fresh, isolated browser context per call. *browser.Launcher
// satisfies this; kept as an interface so a Session can be driven in tests
// without a real browser process.
type Launcher interface {
	NewController(ctx context.Context) (browser.Controller, error)
}

// Request is the external driver's submission for one Session (spec §6).
type Request struct {
	SessionID     string
	URL           string
	Steps         []string
	Headless      bool
	UseAI         bool
	DataPref      Preference
	Policy        Policy
	Deadline      time.Duration // zero means resolve.DefaultConfig's ActionTimeout-based budget only
}

// Outcome is the terminal summary of one Session run.
type Outcome struct {
	SessionID string
	OK        bool
	Metrics   events.Metrics
	Err       error
}

// Session executes one step list against one browser context it owns
// exclusively for the run's duration.
type Session struct {
	launcher Launcher
	store    *learning.Store
	ds       *dataset.Consumer
	bus      *events.Bus
	ai       resolve.Locator
	cfg      resolve.Config
	logger   zerolog.Logger
}

func New(launcher Launcher, store *learning.Store, ds *dataset.Consumer, bus *events.Bus, ai resolve.Locator, cfg resolve.Config, logger zerolog.Logger) *Session {
	return &Session{launcher: launcher, store: store, ds: ds, bus: bus, ai: ai, cfg: cfg, logger: logger}
}

// Run executes req to completion, always releasing the browser context and
// any reserved data row before returning (spec §4.7 step 6, P8).
func (s *Session) Run(ctx context.Context, req Request) Outcome {
	logger := s.logger.With().Str("session_id", req.SessionID).Logger()
	start := time.Now()
	metrics := events.Metrics{}

	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	ctrl, err := s.launcher.NewController(ctx)
	if err != nil {
		return s.finish(req, metrics, start, fmt.Errorf("open browser context: %w", err), nil)
	}
	defer func() {
		if cerr := ctrl.Close(context.Background()); cerr != nil {
			logger.Warn().Err(cerr).Msg("error closing browser context")
		}
	}()

	if err := ctrl.Navigate(ctx, req.URL); err != nil {
		return s.finish(req, metrics, start, &resolve.StepError{Kind: resolve.KindNavigationFailed, Detail: err.Error()}, nil)
	}

	parsed := action.ParseLines(joinLines(req.Steps))

	var row *dataset.Row
	if dataset.HasPlaceholders(req.Steps) {
		if s.ds == nil || s.ds.Empty() {
			return s.finish(req, metrics, start, &resolve.StepError{Kind: resolve.KindNoDataAvailable, Detail: "no dataset loaded"}, nil)
		}
		row, err = s.ds.Reserve(req.DataPref)
		if err != nil {
			return s.finish(req, metrics, start, &resolve.StepError{Kind: resolve.KindNoDataAvailable, Detail: err.Error()}, nil)
		}
	}

	cfg := s.cfg
	cfg.UseAI = req.UseAI
	engine := resolve.New(ctrl, s.store, s.ai, cfg, logger)

	policy := req.Policy
	if policy == "" {
		policy = PolicyStopOnFirstFailure
	}

	var runErr error
	for i, a := range parsed {
		metrics.StepCount++
		s.publish(events.Event{Type: events.TypeStepStart, SessionID: req.SessionID, StepN: i + 1, ActionKind: a.Kind, Target: a.Target})

		if a.Kind == action.KindWait {
			time.Sleep(time.Duration(a.Seconds * float64(time.Second)))
			metrics.StepsSucceeded++
			s.publish(events.Event{Type: events.TypeStepEnd, SessionID: req.SessionID, StepN: i + 1, ActionKind: a.Kind, OK: true})
			continue
		}

		expanded, err := expandPlaceholders(a, row)
		if err != nil {
			stepErr := &resolve.StepError{Kind: resolve.KindPlaceholderUnresolved, Detail: err.Error()}
			runErr = stepErr
			metrics.StepsFailed++
			s.publish(events.Event{Type: events.TypeStepEnd, SessionID: req.SessionID, StepN: i + 1, ActionKind: a.Kind, OK: false, Error: stepErr.Error()})
			if policy == PolicyStopOnFirstFailure {
				break
			}
			continue
		}

		res := engine.Resolve(ctx, expanded)
		if res.OK {
			metrics.StepsSucceeded++
			key := action.Normalize(expanded.Target)
			switch res.Via {
			case resolve.ViaLearned:
				metrics.SelectorsReused++
				s.publish(events.Event{Type: events.TypeSelectorReused, SessionID: req.SessionID, Key: key, Target: expanded.Target, Selector: res.SelectorUsed})
			case resolve.ViaTraditional, resolve.ViaAI:
				metrics.SelectorsLearned++
				s.publish(events.Event{Type: events.TypeSelectorLearned, SessionID: req.SessionID, Key: key, Target: expanded.Target, Selector: res.SelectorUsed})
			}
			if res.Via == resolve.ViaAI {
				metrics.AIInvocations++
				metrics.AISuccesses++
				s.publish(events.Event{Type: events.TypeAIInvoked, SessionID: req.SessionID, Target: expanded.Target, Hit: true})
			}
			s.publish(events.Event{Type: events.TypeStepEnd, SessionID: req.SessionID, StepN: i + 1, ActionKind: a.Kind, OK: true, Via: string(res.Via), Selector: res.SelectorUsed})
			continue
		}

		metrics.StepsFailed++
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
			if res.Err.Kind == resolve.KindElementNotFound || res.Err.Kind == resolve.KindElementNotActionable {
				// AI was attempted as part of Resolve but missed; count it.
				if cfg.UseAI && s.ai != nil {
					metrics.AIInvocations++
					s.publish(events.Event{Type: events.TypeAIInvoked, SessionID: req.SessionID, Target: expanded.Target, Hit: false})
				}
			}
			runErr = res.Err
		}
		s.publish(events.Event{Type: events.TypeStepEnd, SessionID: req.SessionID, StepN: i + 1, ActionKind: a.Kind, OK: false, Error: errMsg})
		if policy == PolicyStopOnFirstFailure {
			break
		}
	}

	return s.finish(req, metrics, start, runErr, row)
}

func (s *Session) finish(req Request, metrics events.Metrics, start time.Time, err error, row *dataset.Row) Outcome {
	metrics.WallTime = time.Since(start)
	ok := err == nil

	if row != nil {
		if ok {
			if cerr := s.ds.Commit(row); cerr != nil {
				s.logger.Warn().Err(cerr).Msg("could not persist data row commit")
			}
		} else {
			s.ds.Release(row)
		}
	}

	s.publish(events.Event{Type: events.TypeSessionEnd, SessionID: req.SessionID, OK: ok, Metrics: &metrics})
	return Outcome{SessionID: req.SessionID, OK: ok, Metrics: metrics, Err: err}
}

func (s *Session) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func expandPlaceholders(a action.Action, row *dataset.Row) (action.Action, error) {
	if row == nil {
		return a, nil
	}
	target, err := dataset.Expand(a.Target, row)
	if err != nil {
		return a, err
	}
	value, err := dataset.Expand(a.Value, row)
	if err != nil {
		return a, err
	}
	a.Target = target
	a.Value = value
	return a, nil
}

func joinLines(steps []string) string {
	out := ""
	for i, l := range steps {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
