package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brightloop/formwright/internal/ailocator"
	"github.com/brightloop/formwright/internal/browser"
	"github.com/brightloop/formwright/internal/coordinator"
	"github.com/brightloop/formwright/internal/dataset"
	"github.com/brightloop/formwright/internal/events"
	"github.com/brightloop/formwright/internal/learning"
	"github.com/brightloop/formwright/internal/resolve"
	"github.com/brightloop/formwright/internal/session"
)

type cliOptions struct {
	urls             multiFlag
	stepsFiles       multiFlag
	headless         bool
	useAI            bool
	learningStore    string
	dataCSV          string
	dataPreference   string
	maxParallel      int
	candidateTimeout time.Duration
	actionTimeout    time.Duration
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	configureLogging()

	if len(opts.urls) == 0 || len(opts.urls) != len(opts.stepsFiles) {
		log.Fatal().Msg("usage: formwright -url <url> -steps <file> [-url <url> -steps <file> ...]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := learning.New(opts.learningStore, log.With().Str("comp", "learning").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("learning store init")
	}

	ds, err := dataset.Load(opts.dataCSV)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset load")
	}

	locator, err := ailocator.New(log.With().Str("comp", "ailocator").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("ai locator init")
	}
	if locator == nil && opts.useAI {
		log.Warn().Msg("use-ai requested but no AI provider credentials found; AI tier disabled")
	}

	launcher, err := browser.NewLauncher(ctx, opts.headless)
	if err != nil {
		log.Fatal().Err(err).Msg("browser launcher init")
	}
	defer launcher.Close()

	bus := events.NewBus()
	sub, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	go logEvents(sub)

	cfg := resolve.DefaultConfig()
	if opts.candidateTimeout > 0 {
		cfg.CandidateTimeout = opts.candidateTimeout
	}
	if opts.actionTimeout > 0 {
		cfg.ActionTimeout = opts.actionTimeout
	}
	cfg.UseAI = opts.useAI && locator != nil

	var resolveLocator resolve.Locator
	if locator != nil {
		resolveLocator = locator
	}

	sess := session.New(launcher, store, ds, bus, resolveLocator, cfg, log.With().Str("comp", "session").Logger())
	coord := coordinator.New(sess, bus, opts.maxParallel, log.With().Str("comp", "coordinator").Logger())

	specs := make([]coordinator.Spec, 0, len(opts.urls))
	for i, url := range opts.urls {
		steps, err := readSteps(opts.stepsFiles[i])
		if err != nil {
			log.Fatal().Err(err).Str("file", opts.stepsFiles[i]).Msg("read steps file")
		}
		specs = append(specs, coordinator.Spec{
			URL:      url,
			Steps:    steps,
			Headless: opts.headless,
			UseAI:    cfg.UseAI,
			DataPref: dataset.Preference(opts.dataPreference),
			Policy:   session.PolicyStopOnFirstFailure,
		})
	}

	outcomes := coord.RunAll(ctx, specs)

	failures := 0
	for _, o := range outcomes {
		if !o.OK {
			failures++
		}
	}
	log.Info().Int("sessions", len(outcomes)).Int("failures", failures).Msg("run complete")
	if failures > 0 {
		os.Exit(1)
	}
}

func configureLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if isTerminal(os.Stderr) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func logEvents(ch <-chan events.Event) {
	for ev := range ch {
		entry := log.Info().Str("event", string(ev.Type)).Str("session_id", ev.SessionID)
		if ev.Key != "" {
			entry = entry.Str("key", ev.Key)
		}
		if ev.Target != "" {
			entry = entry.Str("target", ev.Target)
		}
		if ev.Selector != "" {
			entry = entry.Str("selector", ev.Selector)
		}
		if ev.Error != "" {
			entry = entry.Str("error", ev.Error)
		}
		if ev.Metrics != nil {
			entry = entry.Dur("wall_time", ev.Metrics.WallTime).
				Int("steps_succeeded", ev.Metrics.StepsSucceeded).
				Int("steps_failed", ev.Metrics.StepsFailed)
		}
		entry.Bool("ok", ev.OK).Msg("event")
	}
}

func readSteps(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps file: %w", err)
	}
	return strings.Split(string(data), "\n"), nil
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func parseFlags() cliOptions {
	var opts cliOptions
	flag.Var(&opts.urls, "url", "target URL for a Session (repeatable; pair with -steps)")
	flag.Var(&opts.stepsFiles, "steps", "path to a step-list file for a Session (repeatable, same order as -url)")
	flag.BoolVar(&opts.headless, "headless", envBool("FORMWRIGHT_HEADLESS", true), "run the browser headless")
	flag.BoolVar(&opts.useAI, "use-ai", envBool("FORMWRIGHT_USE_AI", false), "enable the AI Locator Adapter fallback tier")
	flag.StringVar(&opts.learningStore, "learning-store", envString("FORMWRIGHT_LEARNING_STORE", "test_learning.json"), "path to the learning store JSON file")
	flag.StringVar(&opts.dataCSV, "data-csv", envString("FORMWRIGHT_DATA_CSV", "test_data.csv"), "path to the placeholder dataset CSV file")
	flag.StringVar(&opts.dataPreference, "data-preference", envString("FORMWRIGHT_DATA_PREFERENCE", "mixed"), "positive|negative|mixed")
	flag.IntVar(&opts.maxParallel, "max-parallel", envInt("FORMWRIGHT_MAX_PARALLEL", 4), "max concurrent Sessions")
	flag.DurationVar(&opts.candidateTimeout, "candidate-timeout", envDuration("FORMWRIGHT_CANDIDATE_TIMEOUT", 2*time.Second), "per-candidate match timeout")
	flag.DurationVar(&opts.actionTimeout, "action-timeout", envDuration("FORMWRIGHT_ACTION_TIMEOUT", 30*time.Second), "per-action total budget")
	flag.Parse()
	return opts
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
