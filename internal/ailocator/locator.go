package ailocator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brightloop/formwright/internal/action"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultRPM           = 20 // spec §10.1 AI_LOCATOR_RPM default
	defaultRatePerSecond = float64(defaultRPM) / 60.0
	defaultBurst         = 2
	defaultCacheTTL      = 10 * time.Minute
	defaultMaxTokens     = 400
)

const systemPrompt = `You locate a single form element on a rendered web page.
You will be given an abridged HTML snapshot and the human-readable name of
the element a test step needs to interact with. Reply with a single line of
strict JSON: {"selector": "<css-or-xpath-selector>"}. The selector must be a
Playwright-compatible selector (CSS, or "xpath=..." for an XPath expression).
If you cannot identify a plausible element, reply {"selector": ""}.`

type cacheEntry struct {
	selector string
	ok       bool
	expires  time.Time
}

// Locator implements resolve.Locator by asking a provider-selectable LLM to
// name a selector, rate-limited and response-cached so a flaky page doesn't
// turn into a flood of paid API calls for the same (page, target) pair
// (spec §4.4).
type Locator struct {
	transport transport
	limiter   *rate.Limiter
	logger    zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

// New builds a Locator from environment-configured credentials. It returns
// (nil, nil) — not an error — when no AI provider is configured, signalling
// callers to simply skip the AI tier.
func New(logger zerolog.Logger) (*Locator, error) {
	t, err := newTransportFromEnv(logger)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	return &Locator{
		transport: t,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecondFromEnv()), defaultBurst),
		logger:    logger,
		cache:     map[string]cacheEntry{},
		ttl:       cacheTTLFromEnv(),
	}, nil
}

// ratePerSecondFromEnv reads AI_LOCATOR_RPM (requests per minute, spec
// §10.1), converting to the per-second rate rate.Limiter expects.
func ratePerSecondFromEnv() float64 {
	raw := strings.TrimSpace(os.Getenv("AI_LOCATOR_RPM"))
	if raw == "" {
		return defaultRatePerSecond
	}
	rpm, err := strconv.Atoi(raw)
	if err != nil || rpm <= 0 {
		return defaultRatePerSecond
	}
	return float64(rpm) / 60.0
}

func cacheTTLFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("AI_LOCATOR_CACHE_TTL"))
	if raw == "" {
		return defaultCacheTTL
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultCacheTTL
	}
	return d
}

// Suggest implements resolve.Locator.
func (l *Locator) Suggest(ctx context.Context, snapshot, target string, kind action.Kind) (string, bool) {
	if l == nil {
		return "", false
	}

	key := cacheKey(snapshot, target, kind)
	if sel, ok, found := l.cached(key); found {
		return sel, ok
	}

	if err := l.limiter.Wait(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("ailocator: rate limiter wait cancelled")
		return "", false
	}

	prompt := fmt.Sprintf("Target element: %q\nAction kind: %s\n\nPage snapshot:\n%s", target, kind, snapshot)
	text, err := l.transport.generate(ctx, request{
		System:     systemPrompt,
		UserPrompt: prompt,
		MaxTokens:  defaultMaxTokens,
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("target", target).Msg("ailocator: provider call failed, degrading to no suggestion")
		l.store(key, "", false)
		return "", false
	}

	sel, ok := parseSelector(text)
	l.store(key, sel, ok)
	if !ok {
		l.logger.Debug().Str("target", target).Str("raw", truncate(text, 200)).Msg("ailocator: no usable selector in response")
	}
	return sel, ok
}

func (l *Locator) cached(key string) (string, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, found := l.cache[key]
	if !found || time.Now().After(e.expires) {
		return "", false, false
	}
	return e.selector, e.ok, true
}

func (l *Locator) store(key, selector string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[key] = cacheEntry{selector: selector, ok: ok, expires: time.Now().Add(l.ttl)}
}

func cacheKey(snapshot, target string, kind action.Kind) string {
	// the page fingerprint is the snapshot's length plus its first and last
	// 32 bytes (the whole snapshot when it is 64 bytes or shorter), not a hash.
	return fmt.Sprintf("%s\x00%s\x00%d\x00%s", target, kind, len(snapshot), fingerprint(snapshot))
}

func fingerprint(s string) string {
	if len(s) <= 64 {
		return s
	}
	return s[:32] + s[len(s)-32:]
}

// parseSelector extracts {"selector": "..."} from a model response that may
// contain surrounding prose, matching the brace-balancing approach used
// elsewhere in this codebase for tolerant JSON extraction from LLM text.
func parseSelector(text string) (string, bool) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return "", false
	}
	var parsed struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return "", false
	}
	if parsed.Selector == "" {
		return "", false
	}
	return parsed.Selector, true
}

func extractJSONObject(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("ailocator: no JSON object found in response")
}
