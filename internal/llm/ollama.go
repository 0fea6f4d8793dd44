package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// ollamaProvider implements Provider against a local Ollama server.
type ollamaProvider struct {
	baseURL    string
	model      string
	maxRetries int
	client     *http.Client
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func newOllamaProvider(baseURL, model string, timeout time.Duration, maxRetries int) *ollamaProvider {
	return &ollamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

func (o *ollamaProvider) Name() string {
	return "ollama/" + o.model
}

func (o *ollamaProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := ollamaRequest{
		Model:  model,
		Prompt: prompt,
		System: opts.System,
		Stream: false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
			NumCtx:      opts.NumCtx,
		},
	}
	if strings.ToLower(opts.Format) == "json" {
		req.Format = "json"
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		text, err := o.generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// A refused connection means the server is down; retrying
		// with backoff will not bring it up.
		if errors.Is(err, syscall.ECONNREFUSED) {
			break
		}
		if attempt == o.maxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return "", &CallError{
		Provider: o.Name(),
		Attempts: o.maxRetries + 1,
		Message:  lastErr.Error(),
		Err:      lastErr,
	}
}

func (o *ollamaProvider) generate(ctx context.Context, req ollamaRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var genResp ollamaResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if genResp.Error != "" {
		return "", fmt.Errorf("ollama API error: %s", genResp.Error)
	}
	if strings.TrimSpace(genResp.Response) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}

	return strings.TrimSpace(genResp.Response), nil
}
