// Package llm provides a provider-agnostic model adapter for cardintel.
// Normalization prompts go through here. Uses net/http directly.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider is the interface for model completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "ollama/llama3.2").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Model       string  // Override model for this request (empty = use provider default)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // System prompt (optional)
	NumCtx      int     // Context window hint, Ollama only (0 = provider default)
}

// Config holds provider configuration.
type Config struct {
	Provider   string        // "ollama", "openai"
	Model      string        // e.g., "llama3.2", "gpt-4o-mini"
	APIKey     string        // API key (empty = read from env)
	BaseURL    string        // Optional URL override
	Timeout    time.Duration // Per-request timeout (0 = 120s)
	MaxRetries int           // Retries after the first attempt (0 = 3)
}

// CallError is a failed provider call with transport context.
type CallError struct {
	Provider   string
	StatusCode int
	Attempts   int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s call failed after %d attempt(s): HTTP %d: %s", e.Provider, e.Attempts, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s call failed after %d attempt(s): %s", e.Provider, e.Attempts, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewProvider creates a model provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_HOST")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return newOllamaProvider(baseURL, model, timeout, retries), nil

	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return newOpenAIProvider(baseURL, key, model, timeout, retries), nil

	default:
		return nil, fmt.Errorf("unknown model provider: %q (supported: ollama, openai)", cfg.Provider)
	}
}

// ParseModelFlag parses a --model flag value into a Config.
// Format: "provider/model" e.g., "ollama/llama3.2", "openai/gpt-4o-mini"
func ParseModelFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "ollama", Model: "llama3.2"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 {
		return Config{}, fmt.Errorf("invalid --model format %q: expected provider/model (e.g., ollama/llama3.2)", flag)
	}

	provider := strings.ToLower(parts[0])
	model := parts[1]

	switch provider {
	case "ollama", "openai":
		return Config{Provider: provider, Model: model}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in --model flag (supported: ollama, openai)", provider)
	}
}
