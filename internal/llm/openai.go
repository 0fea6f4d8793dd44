package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// openaiProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint.
type openaiProvider struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	client     *http.Client
}

type chatRequest struct {
	Model          string       `json:"model"`
	Messages       []chatMsg    `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    float64      `json:"temperature"`
	ResponseFormat *responseFmt `json:"response_format,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func newOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration, maxRetries int) *openaiProvider {
	return &openaiProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

func (o *openaiProvider) Name() string {
	return "openai/" + o.model
}

func (o *openaiProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}

	messages := make([]chatMsg, 0, 2)
	if opts.System != "" {
		messages = append(messages, chatMsg{Role: "system", Content: opts.System})
	}
	messages = append(messages, chatMsg{Role: "user", Content: prompt})

	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if strings.ToLower(opts.Format) == "json" {
		req.ResponseFormat = &responseFmt{Type: "json_object"}
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		text, err := o.send(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var callErr *CallError
		retryable := true
		if errors.As(err, &callErr) {
			// Client errors other than rate limiting will not heal.
			if callErr.StatusCode >= 400 && callErr.StatusCode < 500 && callErr.StatusCode != 429 {
				retryable = false
			}
		}
		if !retryable || attempt == o.maxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if callErr != nil && callErr.StatusCode == 429 && callErr.RetryAfter > 0 {
			backoff = callErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	var callErr *CallError
	if errors.As(lastErr, &callErr) {
		callErr.Attempts = o.maxRetries + 1
		return "", callErr
	}
	return "", &CallError{
		Provider: o.Name(),
		Attempts: o.maxRetries + 1,
		Message:  lastErr.Error(),
		Err:      lastErr,
	}
}

func (o *openaiProvider) send(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

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
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if seconds, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return "", &CallError{
			Provider:   o.Name(),
			StatusCode: resp.StatusCode,
			Attempts:   1,
			Message:    strings.TrimSpace(string(respBody)),
			RetryAfter: retryAfter,
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response: no choices")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
