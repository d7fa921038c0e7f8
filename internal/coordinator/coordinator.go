// Package coordinator implements the Parallel Coordinator (C8): a fixed
// worker pool that runs N independent Session requests concurrently, each
// against its own browser context and (if needed) its own reserved data
// row, multiplexing their events onto one Event Bus (spec §4.8).
package coordinator

import (
	"context"
	"sync"

	"github.com/brightloop/formwright/internal/events"
	"github.com/brightloop/formwright/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner executes one Session request to an Outcome; *session.Session
// satisfies this directly.
type Runner interface {
	Run(ctx context.Context, req session.Request) session.Outcome
}

// Coordinator fans a batch of Session requests out across a fixed pool of
// worker goroutines, grounded in the same jobQueue-plus-worker-pool shape
// used elsewhere in the example pack for a scrape-job queue.
type Coordinator struct {
	runner      Runner
	bus         *events.Bus
	workerCount int
	logger      zerolog.Logger
}

func New(runner Runner, bus *events.Bus, workerCount int, logger zerolog.Logger) *Coordinator {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Coordinator{runner: runner, bus: bus, workerCount: workerCount, logger: logger}
}

// Spec is one caller-submitted, not-yet-IDed Session request; the
// Coordinator assigns the disjoint session_id (spec §4.8: "each Session
// receives a disjoint session_id").
type Spec struct {
	URL      string
	Steps    []string
	Headless bool
	UseAI    bool
	DataPref session.Preference
	Policy   session.Policy
}

// RunAll runs every spec truly concurrently across the worker pool and
// returns outcomes in the same order as specs, regardless of completion
// order. A coordinator-level cancel (ctx) signals every in-flight Session;
// no Session's failure or hang blocks another's completion (P10) because
// each worker's browser context and error path are fully isolated.
func (c *Coordinator) RunAll(ctx context.Context, specs []Spec) []session.Outcome {
	outcomes := make([]session.Outcome, len(specs))
	jobs := make(chan int, len(specs))
	for i := range specs {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	workers := c.workerCount
	if workers > len(specs) {
		workers = len(specs)
	}
	if workers == 0 {
		return outcomes
	}

	total := len(specs)
	var completed int
	var mu sync.Mutex

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range jobs {
				spec := specs[i]
				sessionID := uuid.NewString()
				req := session.Request{
					SessionID: sessionID,
					URL:       spec.URL,
					Steps:     spec.Steps,
					Headless:  spec.Headless,
					UseAI:     spec.UseAI,
					DataPref:  spec.DataPref,
					Policy:    spec.Policy,
				}

				c.logger.Info().Int("worker", id).Str("session_id", sessionID).Msg("session starting")
				out := c.runner.Run(ctx, req)
				outcomes[i] = out

				mu.Lock()
				completed++
				pct := completed
				mu.Unlock()
				if c.bus != nil {
					c.bus.Publish(events.Event{
						Type:      events.TypeProgressPercent,
						SessionID: sessionID,
						Completed: pct,
						Total:     total,
					})
				}
			}
		}(w)
	}

	wg.Wait()
	return outcomes
}
