package ailocator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	anthropicEnvKey     = "ANTHROPIC_API_KEY"
	anthropicEnvModel   = "ANTHROPIC_MODEL"
	anthropicDefault    = "claude-sonnet-4-5-20250929"
	anthropicURL        = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicTimeout    = 30 * time.Second
	anthropicMaxRetries = 2
	anthropicRetryBase  = 400 * time.Millisecond
)

type anthropicTransport struct {
	apiKey string
	model  string
	http   *http.Client
	logger zerolog.Logger
}

func newAnthropicFromEnv(logger zerolog.Logger, modelOverride string) (transport, error) {
	key := strings.TrimSpace(os.Getenv(anthropicEnvKey))
	if key == "" {
		return nil, &missingCredentialError{envVar: anthropicEnvKey}
	}
	model := modelOverride
	if model == "" {
		model = strings.Trim(strings.TrimSpace(os.Getenv(anthropicEnvModel)), "\"'")
	}
	if model == "" {
		model = anthropicDefault
	}
	return &anthropicTransport{
		apiKey: key,
		model:  model,
		http:   &http.Client{Timeout: anthropicTimeout},
		logger: logger,
	}, nil
}

func (c *anthropicTransport) name() string { return c.model }

func (c *anthropicTransport) generate(ctx context.Context, req request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= anthropicMaxRetries; attempt++ {
		if attempt > 0 {
			delay := anthropicRetryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		payload := map[string]any{
			"model":      c.model,
			"max_tokens": max(req.MaxTokens, 400),
			"messages": []map[string]any{
				{"role": "user", "content": req.UserPrompt},
			},
		}
		if req.System != "" {
			payload["system"] = req.System
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("ailocator: marshal anthropic request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("ailocator: build anthropic request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("ailocator: anthropic transport: %w", err)
			if attempt < anthropicMaxRetries {
				continue
			}
			return "", lastErr
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("ailocator: read anthropic response: %w", err)
			if attempt < anthropicMaxRetries {
				continue
			}
			return "", lastErr
		}

		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("ailocator: anthropic status %d: %s", resp.StatusCode, truncate(string(data), 300))
			if (resp.StatusCode == 429 || resp.StatusCode >= 500) && attempt < anthropicMaxRetries {
				continue
			}
			return "", lastErr
		}

		var parsed struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", fmt.Errorf("ailocator: parse anthropic response: %w", err)
		}
		var buf bytes.Buffer
		for _, c := range parsed.Content {
			if c.Type == "text" {
				buf.WriteString(c.Text)
			}
		}
		return buf.String(), nil
	}
	return "", fmt.Errorf("ailocator: anthropic retries exhausted: %w", lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
