// Package ailocator implements the AI Locator Adapter (C4): an optional,
// last-resort fallback that asks a multimodal-text LLM to suggest a selector
// for a target the Selector Strategy Generator's candidate list failed to
// resolve (spec §4.4). It is deliberately isolated behind resolve.Locator so
// the Resolution Engine never imports an HTTP client directly.
package ailocator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const envProvider = "FORMWRIGHT_AI_PROVIDER" // "anthropic" or "openai"

// transport is the minimal surface both providers implement; kept separate
// from the exported Locator so request/response shaping stays provider-free.
type transport interface {
	generate(ctx context.Context, req request) (string, error)
	name() string
}

type request struct {
	System      string
	UserPrompt  string
	Temperature float32
	MaxTokens   int
}

// newTransportFromEnv resolves FORMWRIGHT_AI_PROVIDER to a concrete client.
// Returns (nil, nil) rather than an error when no credentials are configured
// at all, since the AI Locator Adapter is optional (spec §4.4: "absence of
// credentials disables the tier entirely, not an error").
func newTransportFromEnv(logger zerolog.Logger) (transport, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	modelOverride := strings.TrimSpace(os.Getenv("AI_LOCATOR_MODEL"))

	switch provider {
	case "openai":
		c, err := newOpenAIFromEnv(logger, modelOverride)
		if err != nil {
			if isMissingCredential(err) {
				return nil, nil
			}
			return nil, err
		}
		return c, nil
	case "anthropic":
		c, err := newAnthropicFromEnv(logger, modelOverride)
		if err != nil {
			if isMissingCredential(err) {
				return nil, nil
			}
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("ailocator: unknown provider %q (use anthropic or openai)", provider)
	}
}

type missingCredentialError struct{ envVar string }

func (e *missingCredentialError) Error() string { return "missing " + e.envVar }

func isMissingCredential(err error) bool {
	_, ok := err.(*missingCredentialError)
	return ok
}
