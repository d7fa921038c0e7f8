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
	openAIEnvKey     = "OPENAI_API_KEY"
	openAIEnvModel   = "OPENAI_MODEL"
	openAIDefault    = "gpt-4o-mini"
	openAIURL        = "https://api.openai.com/v1/chat/completions"
	openAITimeout    = 30 * time.Second
	openAIMaxRetries = 2
	openAIRetryBase  = 400 * time.Millisecond
)

type openAITransport struct {
	apiKey string
	model  string
	http   *http.Client
	logger zerolog.Logger
}

func newOpenAIFromEnv(logger zerolog.Logger, modelOverride string) (transport, error) {
	key := strings.TrimSpace(os.Getenv(openAIEnvKey))
	if key == "" {
		return nil, &missingCredentialError{envVar: openAIEnvKey}
	}
	model := modelOverride
	if model == "" {
		model = strings.Trim(strings.TrimSpace(os.Getenv(openAIEnvModel)), "\"'")
	}
	if model == "" {
		model = openAIDefault
	}
	return &openAITransport{
		apiKey: key,
		model:  model,
		http:   &http.Client{Timeout: openAITimeout},
		logger: logger,
	}, nil
}

func (c *openAITransport) name() string { return c.model }

func (c *openAITransport) generate(ctx context.Context, req request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= openAIMaxRetries; attempt++ {
		if attempt > 0 {
			delay := openAIRetryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		messages := []map[string]string{}
		if req.System != "" {
			messages = append(messages, map[string]string{"role": "system", "content": req.System})
		}
		messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

		payload := map[string]any{
			"model":      c.model,
			"messages":   messages,
			"max_tokens": max(req.MaxTokens, 400),
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("ailocator: marshal openai request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIURL, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("ailocator: build openai request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("ailocator: openai transport: %w", err)
			if attempt < openAIMaxRetries {
				continue
			}
			return "", lastErr
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("ailocator: read openai response: %w", err)
			if attempt < openAIMaxRetries {
				continue
			}
			return "", lastErr
		}

		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("ailocator: openai status %d: %s", resp.StatusCode, truncate(string(data), 300))
			if (resp.StatusCode == 429 || resp.StatusCode >= 500) && attempt < openAIMaxRetries {
				continue
			}
			return "", lastErr
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", fmt.Errorf("ailocator: parse openai response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("ailocator: openai returned no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("ailocator: openai retries exhausted: %w", lastErr)
}
